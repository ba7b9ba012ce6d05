package compiler

import (
	"errors"
	"fmt"
)

// ErrEmptyFlow is returned when a flow has no import blocks to read from.
var ErrEmptyFlow = errors.New("flow has no import blocks")

// WarningCode identifies a class of compile warning.
type WarningCode string

const (
	WarnMissingAction      WarningCode = "missing_action"
	WarnActionTypeMismatch WarningCode = "action_type_mismatch"
	WarnComparisonArity    WarningCode = "comparison_arity"
	WarnExportArity        WarningCode = "export_arity"
	WarnInvalidEdge        WarningCode = "invalid_edge"
	WarnCycleEdge          WarningCode = "cycle_edge"
	WarnUnreachable        WarningCode = "unreachable"
	WarnFilenameExpression WarningCode = "filename_expression"
	WarnInvalidConfig      WarningCode = "invalid_config"
)

// Warning is a problem that does not stop compilation. The affected block is
// compiled as a pass-through or skipped.
type Warning struct {
	Code    WarningCode `json:"code"`
	BlockID string      `json:"blockId,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.BlockID == "" {
		return fmt.Sprintf("[%s] %s", w.Code, w.Message)
	}
	return fmt.Sprintf("[%s] block %s: %s", w.Code, w.BlockID, w.Message)
}
