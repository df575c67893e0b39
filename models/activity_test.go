package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActivityValidate(t *testing.T) {
	valid := Activity{
		ID:        "a1",
		Content:   "hello",
		CreatedAt: time.Now(),
		UserID:    "u1",
	}
	require.NoError(t, valid.Validate())

	noContent := valid
	noContent.Content = ""
	require.ErrorIs(t, noContent.Validate(), ErrEmptyContent)

	noTimestamp := valid
	noTimestamp.CreatedAt = time.Time{}
	require.ErrorIs(t, noTimestamp.Validate(), ErrNoTimestamp)
}

func TestValidateBatchRejectsWhole(t *testing.T) {
	batch := []Activity{
		{ID: "a1", Content: "first", CreatedAt: time.Now()},
		{ID: "a2", Content: "", CreatedAt: time.Now()},
		{ID: "a3", Content: "third", CreatedAt: time.Now()},
	}

	err := ValidateBatch(batch)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmptyContent)
	require.Contains(t, err.Error(), "record 1")
	require.Contains(t, err.Error(), "id=a2")

	require.NoError(t, ValidateBatch(nil))
	require.NoError(t, ValidateBatch(batch[:1]))
}

func TestDisplayNameFallsBackToEmail(t *testing.T) {
	withNickname := Activity{UserNickname: "gopher", UserEmail: "gopher@example.com"}
	require.Equal(t, "gopher", withNickname.DisplayName())

	withoutNickname := Activity{UserEmail: "gopher@example.com"}
	require.Equal(t, "gopher@example.com", withoutNickname.DisplayName())
}
