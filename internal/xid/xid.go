package xid

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	nodeMu sync.Mutex
	node   *snowflake.Node
)

// Init sets the snowflake node for this process. Node IDs must be unique per
// running instance sharing a database.
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	nodeMu.Lock()
	node = n
	nodeMu.Unlock()
	return nil
}

func NextID() int64 {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	if node == nil {
		node, _ = snowflake.NewNode(1)
	}
	return node.Generate().Int64()
}

// Code builds a human-readable document code such as HD20261015-3F9A1C.
func Code(prefix string, at time.Time) string {
	return fmt.Sprintf("%s%s-%s", prefix, at.UTC().Format("20060102"), Suffix(6))
}

// Suffix returns n upper-case hex characters of a random UUID.
func Suffix(n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n <= 0 || n > len(raw) {
		n = len(raw)
	}
	return strings.ToUpper(raw[:n])
}

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
