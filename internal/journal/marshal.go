package journal

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/universe/internal/ir"
)

// marshalRows encodes row ids as a JSON array. A nil slice is stored as [].
func marshalRows(rows []ir.RowID) (string, error) {
	if rows == nil {
		rows = []ir.RowID{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}
	return string(data), nil
}

func marshalMoves(moves []ir.Move) (string, error) {
	if moves == nil {
		moves = []ir.Move{}
	}
	data, err := json.Marshal(moves)
	if err != nil {
		return "", fmt.Errorf("marshal moves: %w", err)
	}
	return string(data), nil
}

// marshalBody renders the fact's structure as canonical JSON, the same
// bytes its digest was computed from.
func marshalBody(f ir.Fact) (string, error) {
	data, err := ir.MarshalCanonical(f.Structure())
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}
	return string(data), nil
}

func unmarshalRows(data string) ([]ir.RowID, error) {
	var rows []ir.RowID
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		return nil, fmt.Errorf("unmarshal rows: %w", err)
	}
	return rows, nil
}

func unmarshalMoves(data string) ([]ir.Move, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var moves []ir.Move
	if err := json.Unmarshal([]byte(data), &moves); err != nil {
		return nil, fmt.Errorf("unmarshal moves: %w", err)
	}
	return moves, nil
}
