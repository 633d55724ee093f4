package errors

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes.
const (
	CodeOK            ErrorCode = "OK"
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeInternal      ErrorCode = "INTERNAL_001"
	CodeInvalidParam  ErrorCode = "COMMON_001"
	CodeNotFound      ErrorCode = "COMMON_002"
	CodeConflict      ErrorCode = "COMMON_003"
	CodeTimeout       ErrorCode = "COMMON_004"
	CodeSerialization ErrorCode = "COMMON_005"
)

// Input errors: the source tables cannot be used as given.
const (
	CodeMissingColumn   ErrorCode = "INPUT_001"
	CodeEmptyTable      ErrorCode = "INPUT_002"
	CodeMalformedCell   ErrorCode = "INPUT_003"
	CodeInputUnreadable ErrorCode = "INPUT_004"
	CodeEmptySampleID   ErrorCode = "INPUT_005"
)

// Alignment errors.
const (
	CodeNoCommonSamples ErrorCode = "ALIGN_001"
)

// Shape errors.
const (
	CodeWidthMismatch       ErrorCode = "SHAPE_001"
	CodeReducedSpaceInvalid ErrorCode = "SHAPE_002"
)

// Recommendation errors.
const (
	CodeTopKExceedsDrugs ErrorCode = "RECO_001"
	CodeTopKInvalid      ErrorCode = "RECO_002"
)

// Survival export errors.
const (
	CodeNoValidSurvivalSamples ErrorCode = "SURV_001"
)

// Model errors.
const (
	CodeModelConfigInvalid ErrorCode = "MODEL_001"
	CodeModelWeights       ErrorCode = "MODEL_002"
)

// Configuration and output errors.
const (
	CodeConfigInvalid ErrorCode = "CONFIG_001"
	CodeOutputWrite   ErrorCode = "OUTPUT_001"
)

// Sink and infrastructure errors.
const (
	CodeStorageError   ErrorCode = "STORAGE_001"
	CodeDatabaseError  ErrorCode = "DB_001"
	CodeCacheError     ErrorCode = "CACHE_001"
	CodeMessagingError ErrorCode = "MSG_001"
	CodeSearchError    ErrorCode = "SEARCH_001"
	CodeGraphError     ErrorCode = "GRAPH_001"
)

// codeDescriptions documents each code for CLI output and run events.
var codeDescriptions = map[ErrorCode]string{
	CodeOK:                     "success",
	CodeUnknown:                "unclassified error",
	CodeInternal:               "internal error",
	CodeInvalidParam:           "invalid parameter",
	CodeNotFound:               "not found",
	CodeConflict:               "conflict",
	CodeTimeout:                "timeout",
	CodeSerialization:          "serialization failure",
	CodeMissingColumn:          "missing required column",
	CodeEmptyTable:             "empty source table",
	CodeMalformedCell:          "malformed numeric cell",
	CodeInputUnreadable:        "source table unreadable",
	CodeEmptySampleID:          "empty sample identifier",
	CodeNoCommonSamples:        "no common samples",
	CodeWidthMismatch:          "vector width mismatch",
	CodeReducedSpaceInvalid:    "reduced drug space cannot be satisfied",
	CodeTopKExceedsDrugs:       "top-k exceeds available compounds",
	CodeTopKInvalid:            "top-k must be positive",
	CodeNoValidSurvivalSamples: "no valid samples after clinical merge",
	CodeModelConfigInvalid:     "invalid model configuration",
	CodeModelWeights:           "model weights unusable",
	CodeConfigInvalid:          "invalid configuration",
	CodeOutputWrite:            "output write failed",
	CodeStorageError:           "object storage failure",
	CodeDatabaseError:          "database failure",
	CodeCacheError:             "cache failure",
	CodeMessagingError:         "messaging failure",
	CodeSearchError:            "vector search failure",
	CodeGraphError:             "graph store failure",
}

// Describe returns the short description of a code, or "" when unknown.
func (c ErrorCode) Describe() string {
	return codeDescriptions[c]
}

// ExitCode maps an error code to a process exit status for the CLI.
// 0 success, 2 input/alignment/shape/recommendation/survival failures,
// 3 configuration and model failures, 4 sink failures, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch Category(err) {
	case "INPUT", "ALIGN", "SHAPE", "RECO", "SURV":
		return 2
	case "CONFIG", "MODEL":
		return 3
	case "STORAGE", "DB", "CACHE", "MSG", "SEARCH", "GRAPH":
		return 4
	default:
		return 1
	}
}
