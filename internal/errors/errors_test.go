package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCodeThroughChain(t *testing.T) {
	cause := stdErrors.New("max fee per gas less than block base fee")
	err := fmt.Errorf("mint: %w", Wrap(CodeFeeCeilingTooLow, cause, "", WithMetadata("max_fee", "10")))

	require.Equal(t, CodeFeeCeilingTooLow, CodeOf(err))
	require.True(t, HasCode(err, CodeFeeCeilingTooLow))
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, New(CodeFeeCeilingTooLow, "other message"))
	require.Contains(t, err.Error(), "max_fee=10")
	require.Contains(t, err.Error(), "fee ceiling too low")
}

func TestFatalDefaultsAndOverrides(t *testing.T) {
	require.True(t, IsFatal(New(CodeConfirmationTimeout, "")))
	require.False(t, IsFatal(New(CodeMalformedResponse, "")))
	require.True(t, IsFatal(New(CodeMalformedResponse, "", WithFatal(true))))
	require.True(t, IsFatal(stdErrors.New("plain")))
	require.False(t, IsFatal(nil))
}

func TestTimeoutAndRejectionAreDistinct(t *testing.T) {
	timeout := New(CodeConfirmationTimeout, "")
	rejected := New(CodeTransactionRejected, "")

	require.False(t, stdErrors.Is(timeout, rejected))
	require.NotEqual(t, CodeOf(timeout), CodeOf(rejected))
}

func TestUnknownCodeFallsBack(t *testing.T) {
	attr := AttributesOf(Code("NOPE"))
	require.Equal(t, AttributesOf(CodeUnknown), attr)

	Register(Code("CUSTOM"), Attributes{Message: "custom", Severity: SeverityInfo})
	require.Equal(t, "custom", New(Code("CUSTOM"), "").Message())
	require.Equal(t, SeverityInfo, SeverityOf(New(Code("CUSTOM"), "")))
}
