package kafka

import (
	"testing"

	"go-kafkaguard/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestReplyPartitionBalancer(t *testing.T) {
	b := &ReplyPartitionBalancer{}
	partitions := []int{0, 1, 2, 3}
	header := []kafka.Header{{Key: models.HeaderReplyPartition, Value: []byte("2")}}

	tests := []struct {
		name string
		msg  kafka.Message
		want func(got int) bool
	}{
		{
			name: "reply honors header",
			msg:  kafka.Message{Topic: "UserSignup.reply", Key: []byte("k"), Headers: header},
			want: func(got int) bool { return got == 2 },
		},
		{
			name: "reply with unknown partition falls back to hash",
			msg: kafka.Message{Topic: "UserSignup.reply", Key: []byte("k"), Headers: []kafka.Header{
				{Key: models.HeaderReplyPartition, Value: []byte("9")},
			}},
			want: func(got int) bool {
				return got == (&kafka.Murmur2Balancer{}).Balance(kafka.Message{Key: []byte("k")}, 0, 1, 2, 3)
			},
		},
		{
			name: "request ignores header",
			msg:  kafka.Message{Topic: "UserSignup", Key: []byte("k"), Headers: header},
			want: func(got int) bool {
				return got == (&kafka.Murmur2Balancer{}).Balance(kafka.Message{Key: []byte("k")}, 0, 1, 2, 3)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want(b.Balance(tt.msg, partitions...)))
		})
	}
}

func TestReplyPartitionBalancer_SameKeySamePartition(t *testing.T) {
	b := &ReplyPartitionBalancer{}
	key := []byte(models.SequentialKey("Ledger"))

	first := b.Balance(kafka.Message{Topic: "Ledger", Key: key}, 0, 1, 2)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, b.Balance(kafka.Message{Topic: "Ledger", Key: key}, 0, 1, 2))
	}
}
