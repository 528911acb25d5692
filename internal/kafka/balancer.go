package kafka

import (
	"slices"
	"strconv"
	"strings"

	"go-kafkaguard/pkg/models"

	kafka "github.com/segmentio/kafka-go"
)

// ReplyPartitionBalancer routes replies to the partition named in their
// kafka_replyPartition header and hashes everything else by key with murmur2, the
// same scheme Java clients use, so equal keys always land on the same partition.
type ReplyPartitionBalancer struct {
	hash kafka.Murmur2Balancer
}

func (b *ReplyPartitionBalancer) Balance(msg kafka.Message, partitions ...int) int {
	if p, ok := replyPartition(msg); ok && slices.Contains(partitions, p) {
		return p
	}
	return b.hash.Balance(msg, partitions...)
}

// Requests carry the header too, so only messages bound for a reply topic honor it.
func replyPartition(msg kafka.Message) (int, bool) {
	if !strings.HasSuffix(msg.Topic, models.ReplyTopic("")) {
		return 0, false
	}
	for _, h := range msg.Headers {
		if h.Key == models.HeaderReplyPartition {
			p, err := strconv.Atoi(string(h.Value))
			return p, err == nil
		}
	}
	return 0, false
}
