package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusSending, StatusSent))
	assert.True(t, CanTransition(StatusSent, StatusDelivered))
	assert.True(t, CanTransition(StatusSent, StatusRead))
	assert.True(t, CanTransition(StatusDelivered, StatusError))

	assert.False(t, CanTransition(StatusSent, StatusSent), "no self loops")
	assert.False(t, CanTransition(StatusDelivered, StatusSent), "no regression")
	assert.False(t, CanTransition(StatusRead, StatusError), "read is terminal")
	assert.False(t, CanTransition(StatusError, StatusSent), "error is terminal")
	assert.False(t, CanTransition("bogus", StatusSent))
}

func TestMessageBefore(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := &Message{ID: "a", CreatedAt: at}
	b := &Message{ID: "b", CreatedAt: at.Add(time.Second)}
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))

	// equal timestamps fall back to id order
	c := &Message{ID: "c", CreatedAt: at}
	assert.True(t, a.Before(c))
	assert.False(t, c.Before(a))
}

func TestValidConvStatus(t *testing.T) {
	assert.True(t, ValidConvStatus(ConvStatusActive))
	assert.True(t, ValidConvStatus(ConvStatusArchived))
	assert.True(t, ValidConvStatus(ConvStatusClosed))
	assert.False(t, ValidConvStatus("deleted"))
}
