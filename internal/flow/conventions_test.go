package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BTreeMap/FlowPipe/internal/models"
)

func TestRetry_HandoffOnThirdFailure(t *testing.T) {
	data := models.Data{}
	for attempt := 1; attempt <= 2; attempt++ {
		res := Retry(data, "email", "ask_email", "de novo")
		assert.False(t, res.Done, "attempt %d", attempt)
		assert.Equal(t, "de novo", res.Reply)
		assert.Equal(t, attempt, res.DataPatch["email_retry_count"])
		data = data.Merge(res.DataPatch)
	}

	res := Retry(data, "email", "ask_email", "de novo")
	assert.True(t, res.Done)
	assert.Equal(t, HumanHandoffReply, res.Reply)
	assert.Equal(t, true, res.DataPatch["handoff_requested"])
}

func TestRetry_CountersAreIndependent(t *testing.T) {
	data := models.Data{"email_retry_count": 2.0}
	res := Retry(data, "phone", "ask_phone", "x")
	assert.False(t, res.Done)
	assert.Equal(t, 1, res.DataPatch["phone_retry_count"])
}

func TestAskAndAccept(t *testing.T) {
	res := Ask("email", "ask_email", "qual?")
	assert.Equal(t, models.Data{"_asked_email": true}, res.DataPatch)
	assert.True(t, Asked(models.Data{}.Merge(res.DataPatch), "email"))

	res = Accept("email", "a@b.com.br", "ask_phone", "phone", "telefone?")
	assert.Equal(t, "ask_phone", res.NextStep)
	assert.Equal(t, models.Data{
		"email":             "a@b.com.br",
		"_asked_email":      false,
		"email_retry_count": 0,
		"_asked_phone":      true,
	}, res.DataPatch)
	assert.False(t, Correcting(models.Data{}))
	assert.True(t, Correcting(models.Data{KeyCorrecting: true}))
}
