package ledger

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator hands out record ids.
type IDGenerator interface {
	NewID() RecordID
}

// SnowflakeIDs generates time-ordered ids from a snowflake node.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs creates a generator for the given node number (0-1023).
// Processes writing to the same remote store need distinct node numbers.
func NewSnowflakeIDs(node int64) (*SnowflakeIDs, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &SnowflakeIDs{node: n}, nil
}

func (g *SnowflakeIDs) NewID() RecordID {
	return RecordID(g.node.Generate().String())
}
