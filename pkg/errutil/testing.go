// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Code returns the oops code carried by err, failing the test when err is
// nil or not an oops error.
func Code(tb testing.TB, err error) string {
	tb.Helper()
	code, _ := mustOops(tb, err).Code().(string)
	return code
}

// AssertErrorCode asserts that err is an oops error with the given code.
func AssertErrorCode(tb testing.TB, err error, code string) {
	tb.Helper()
	assert.Equal(tb, code, Code(tb, err))
}

// AssertErrorContext asserts that err carries key=value in its oops context.
func AssertErrorContext(tb testing.TB, err error, key string, value any) {
	tb.Helper()
	ctx := mustOops(tb, err).Context()
	if assert.Contains(tb, ctx, key) {
		assert.Equal(tb, value, ctx[key])
	}
}

// AssertWraps asserts that err is an oops error wrapping target.
func AssertWraps(tb testing.TB, err, target error) {
	tb.Helper()
	mustOops(tb, err)
	assert.ErrorIs(tb, err, target)
}

func mustOops(tb testing.TB, err error) oops.OopsError {
	tb.Helper()
	require.Error(tb, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(tb, ok, "expected an oops error, got %T: %v", err, err)
	return oopsErr
}
