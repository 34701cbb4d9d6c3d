package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"virtualroom-backend/internal/model"
)

func TestRoomEventType(t *testing.T) {
	t.Run("accepts the closed set", func(t *testing.T) {
		for _, et := range []model.RoomEventType{
			model.EventWhiteboardStart, model.EventWhiteboardMove, model.EventWhiteboardClear,
			model.EventWhiteboardOpen, model.EventWhiteboardClose, model.EventWhiteboardPermission,
			model.EventTranscriptionOn, model.EventTranscriptionOff,
			model.EventScreenShareOn, model.EventScreenShareOff,
		} {
			assert.True(t, et.Valid(), et.String())
		}
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		assert.False(t, model.RoomEventType("whiteboard_undo").Valid())
		assert.False(t, model.RoomEventType("").Valid())
	})

	t.Run("panel and permission events are host only", func(t *testing.T) {
		assert.True(t, model.EventWhiteboardOpen.HostOnly())
		assert.True(t, model.EventWhiteboardPermission.HostOnly())
		assert.False(t, model.EventWhiteboardMove.HostOnly())
	})
}

func TestAssessmentEventType_AllowedFor(t *testing.T) {
	assert.True(t, model.AssessmentStart.AllowedFor(model.RoleHost))
	assert.False(t, model.AssessmentStart.AllowedFor(model.RoleGuest))
	assert.True(t, model.AssessmentAnswer.AllowedFor(model.RoleGuest))
	assert.True(t, model.AssessmentFinish.AllowedFor(model.RoleGuest))
	assert.False(t, model.AssessmentFinish.AllowedFor(model.RoleHost))
}

func TestWaitingStatus_Resolved(t *testing.T) {
	assert.False(t, model.WaitingStatusWaiting.Resolved())
	assert.True(t, model.WaitingStatusApproved.Resolved())
	assert.True(t, model.WaitingStatusDenied.Resolved())
}
