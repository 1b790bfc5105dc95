package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetErrorError(t *testing.T) {
	e := TargetError{
		Target: "train.stage",
		Err:    fmt.Errorf("something went wrong"),
	}
	assert.EqualError(t, e, "train.stage: something went wrong")
}

func TestTargetErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	e := TargetError{
		Target: "train.stage",
		Err:    inner,
	}
	assert.ErrorIs(t, e, inner)
}

func TestResultFailed(t *testing.T) {
	assert.False(t, (&CommitResult{}).Failed(), "empty commit result")
	assert.True(t, (&RemoveResult{Errors: []TargetError{{Target: "x", Err: errors.New("e")}}}).Failed())
	assert.False(t, (&CheckoutResult{Skipped: []FileAction{{Path: "a", Action: "unchanged"}}}).Failed(),
		"skipped outputs are not failures")
}
