package kafka

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"go-kafkaguard/pkg/models"
)

var upperCamelCase = regexp.MustCompile(`^[A-Z][a-z]+(?:[A-Z][a-z]+)*$`)

// TopicSpec declares a topic the process expects to exist.
type TopicSpec struct {
	Name              string `yaml:"name"`
	Partitions        int    `yaml:"partitions"`
	ReplicationFactor int    `yaml:"replication_factor"`
	// Reply also declares <name>.reply for request/reply traffic.
	Reply bool `yaml:"reply"`
}

type TopicsFile struct {
	Topics []TopicSpec `yaml:"topics"`
}

func (t TopicSpec) Validate() error {
	if t.Name == "" {
		return errors.New("topic name cannot be empty")
	}
	if t.Partitions <= 0 {
		return fmt.Errorf("topic %q: partitions must be positive", t.Name)
	}
	if t.ReplicationFactor <= 0 {
		return fmt.Errorf("topic %q: replication factor must be positive", t.Name)
	}
	return nil
}

// ValidateName enforces UpperCamelCase for declared (not companion) topic names.
func (t TopicSpec) ValidateName() error {
	if !upperCamelCase.MatchString(t.Name) {
		return fmt.Errorf("topic %q must be in Upper Camel Case format", t.Name)
	}
	return nil
}

// EffectiveReplicationFactor clamps the declared factor to [1, brokerCount].
func (t TopicSpec) EffectiveReplicationFactor(brokerCount int) int {
	rf := t.ReplicationFactor
	if brokerCount > 0 && rf > brokerCount {
		rf = brokerCount
	}
	if rf < 1 {
		rf = 1
	}
	return rf
}

// Expand returns the declared topics followed by their companion topics, without
// duplicates. Companions inherit partitions and replication factor.
func Expand(specs []TopicSpec, withDLQ bool) []TopicSpec {
	out := make([]TopicSpec, 0, len(specs)*2)
	seen := make(map[string]struct{}, len(specs)*2)
	add := func(s TopicSpec) {
		if _, ok := seen[s.Name]; ok {
			return
		}
		seen[s.Name] = struct{}{}
		out = append(out, s)
	}

	for _, s := range specs {
		add(TopicSpec{Name: s.Name, Partitions: s.Partitions, ReplicationFactor: s.ReplicationFactor})
	}
	for _, s := range specs {
		if withDLQ {
			add(TopicSpec{Name: models.DeadLetterTopic(s.Name), Partitions: s.Partitions, ReplicationFactor: s.ReplicationFactor})
		}
		if s.Reply {
			add(TopicSpec{Name: models.ReplyTopic(s.Name), Partitions: s.Partitions, ReplicationFactor: s.ReplicationFactor})
		}
	}
	return out
}

// LoadTopicsFile reads topic declarations from a YAML file.
func LoadTopicsFile(path string) ([]TopicSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topics file: %w", err)
	}

	var file TopicsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse topics file: %w", err)
	}
	for _, t := range file.Topics {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if err := t.ValidateName(); err != nil {
			return nil, err
		}
	}
	return file.Topics, nil
}
