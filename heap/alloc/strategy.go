package alloc

import (
	"fmt"

	"github.com/joshuapare/kheap/mem"
)

// Strategy selects the allocation strategy backing a heap.
type Strategy uint8

const (
	StrategyBump Strategy = iota
	StrategyLinkedList
	StrategyFixedBlock
)

var strategyNames = map[Strategy]string{
	StrategyBump:       "bump",
	StrategyLinkedList: "linked-list",
	StrategyFixedBlock: "fixed-block",
}

// Strategies lists every strategy in declaration order.
var Strategies = []Strategy{StrategyBump, StrategyLinkedList, StrategyFixedBlock}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	name, ok := strategyNames[s]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, uint8(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStrategy resolves a strategy name. "linked_list", "linkedlist" and
// "fixed_block" style spellings are accepted too.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "bump":
		return StrategyBump, nil
	case "linked-list", "linked_list", "linkedlist", "free-list":
		return StrategyLinkedList, nil
	case "fixed-block", "fixed_block", "fixedblock", "slab":
		return StrategyFixedBlock, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// NewStrategy returns an uninitialized allocator of the given kind. m is the
// memory the intrusive strategies store their nodes in; the bump strategy
// ignores it.
func NewStrategy(kind Strategy, m mem.Memory) (Allocator, error) {
	switch kind {
	case StrategyBump:
		return NewBump(), nil
	case StrategyLinkedList:
		return NewLinkedList(m), nil
	case StrategyFixedBlock:
		return NewFixedBlock(m), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, uint8(kind))
}
