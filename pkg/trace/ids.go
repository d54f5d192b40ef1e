package trace

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator issues identifiers for triggers, history entries and
// evidence items.
type IDGenerator interface {
	NewID() string
}

// SnowflakeIDs issues time-ordered snowflake identifiers.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs creates a generator for the given node number (0-1023).
func NewSnowflakeIDs(node int64) (*SnowflakeIDs, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node: %w", err)
	}
	return &SnowflakeIDs{node: n}, nil
}

// NewID returns the next identifier.
func (s *SnowflakeIDs) NewID() string {
	return s.node.Generate().String()
}

func defaultIDs() IDGenerator {
	ids, err := NewSnowflakeIDs(1)
	if err != nil {
		// node 1 is always within range
		panic(err)
	}
	return ids
}
