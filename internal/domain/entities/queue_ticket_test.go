package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_ForwardOnly(t *testing.T) {
	allowed := map[[2]TicketStatus]bool{
		{TicketStatusWaiting, TicketStatusCalled}: true,
		{TicketStatusCalled, TicketStatusIn}:      true,
		{TicketStatusCalled, TicketStatusDone}:    true,
		{TicketStatusCalled, TicketStatusNoShow}:  true,
		{TicketStatusIn, TicketStatusDone}:        true,
	}
	all := []TicketStatus{TicketStatusWaiting, TicketStatusCalled, TicketStatusIn, TicketStatusDone, TicketStatusNoShow}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]TicketStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTicketStatus_TerminalHasNoEdges(t *testing.T) {
	for _, s := range []TicketStatus{TicketStatusDone, TicketStatusNoShow} {
		assert.True(t, s.IsTerminal())
		assert.False(t, s.IsActive())
		assert.Empty(t, ticketTransitions[s])
	}
}

func TestQueueTicket_Ahead(t *testing.T) {
	normalEarly := &QueueTicket{Number: 1, Priority: PriorityNormal}
	normalLate := &QueueTicket{Number: 2, Priority: PriorityNormal}
	emergencyLate := &QueueTicket{Number: 9, Priority: PriorityEmergency}

	assert.True(t, normalEarly.Ahead(normalLate))
	assert.False(t, normalLate.Ahead(normalEarly))
	assert.True(t, emergencyLate.Ahead(normalEarly))
}

func TestQueueTicket_IsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&QueueTicket{Status: TicketStatusCalled, ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&QueueTicket{Status: TicketStatusCalled, ExpiresAt: &future}).IsExpired(now))
	assert.False(t, (&QueueTicket{Status: TicketStatusIn, ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&QueueTicket{Status: TicketStatusCalled}).IsExpired(now))
}
