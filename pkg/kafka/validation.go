package kafka

import "errors"

// ============================================================================
// Validation
// ============================================================================

func (c *ProducerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("brokers cannot be empty")
	}
	if c.SendTimeout <= 0 {
		return errors.New("sendTimeout must be greater than zero")
	}
	if c.WriteTimeout < 0 {
		return errors.New("writeTimeout cannot be negative")
	}
	if c.RetryPolicy.MaxAttempts < 0 {
		return errors.New("retry maxAttempts cannot be negative")
	}
	return nil
}

func (c *ConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("brokers cannot be empty")
	}
	if c.GroupID == "" {
		return errors.New("groupID cannot be empty")
	}
	if c.MaxWait < 0 {
		return errors.New("maxWait cannot be negative")
	}
	if c.PartitionBuffer < 0 {
		return errors.New("partitionBuffer cannot be negative")
	}
	return nil
}
