package envelope

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		id       string
		report   bool
		response bool
	}{
		{"response", `{"id":"req_1","version":"1.0","method":1000,"data":{"code":0}}`, "req_1", false, true},
		{"report", `{"version":"1.0","method":6000,"messageType":"notification","data":{}}`, "", true, false},
		{"report with id", `{"id":"x","messageType":"notification"}`, "x", true, false},
		{"no id", `{"version":"1.0","method":5}`, "", false, false},
		{"not json", `hello`, "", false, false},
		{"array", `[1,2]`, "", false, false},
	}

	h := NewHandler(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte(tt.raw)
			assert.Equal(t, tt.id, h.CorrelationID(raw))
			assert.Equal(t, tt.report, h.IsReport(raw))
			assert.Equal(t, tt.response, h.IsResponse(raw))
		})
	}
}

func TestBuilders(t *testing.T) {
	req, err := NewRequest(1000, map[string]string{"file": "a.gcode"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, Version, req.Version)

	other, err := NewRequest(1000, nil)
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, other.ID)
	assert.Nil(t, other.Data)

	resp, err := NewResponse(req, map[string]int{"code": 0})
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, 1000, resp.Method)
	assert.True(t, resp.IsResponse())

	rep, err := NewReport(6000, json.RawMessage(`{"progress":12}`))
	require.NoError(t, err)
	assert.Empty(t, rep.ID)
	assert.Equal(t, MessageTypeNotification, rep.MessageType)
	assert.JSONEq(t, `{"progress":12}`, string(rep.Data))

	_, err = NewRequest(1, make(chan int))
	assert.Error(t, err)
}

func TestParseAndDecode(t *testing.T) {
	env, err := Parse([]byte(`{"id":"a","data":{"code":7}}`))
	require.NoError(t, err)
	var data struct {
		Code int `json:"code"`
	}
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, 7, data.Code)

	empty := &Envelope{Data: json.RawMessage("null")}
	data.Code = 3
	require.NoError(t, empty.DecodeData(&data))
	assert.Equal(t, 3, data.Code)

	_, err = Parse([]byte("{"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestHandleReport(t *testing.T) {
	var got *Envelope
	h := NewHandler(func(env *Envelope) error {
		got = env
		return nil
	})
	require.NoError(t, h.HandleReport([]byte(`{"method":6000,"messageType":"notification"}`)))
	require.NotNil(t, got)
	assert.Equal(t, 6000, got.Method)

	assert.ErrorIs(t, h.HandleReport([]byte("nope")), ErrMalformed)
	assert.NoError(t, NewHandler(nil).HandleReport([]byte(`{"messageType":"notification"}`)))
}

func TestCall(t *testing.T) {
	type statusReply struct {
		Code  int    `json:"code"`
		State string `json:"state"`
	}

	var sent *Envelope
	send := func(_ context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
		assert.Equal(t, time.Second, timeout)
		var err error
		sent, err = Parse(payload)
		require.NoError(t, err)
		resp, err := NewResponse(sent, statusReply{Code: 0, State: "printing"})
		require.NoError(t, err)
		return resp.Marshal()
	}

	out, err := Call[statusReply](context.Background(), send, 1002, map[string]string{"q": "status"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "printing", out.State)
	assert.Equal(t, 1002, sent.Method)
	assert.JSONEq(t, `{"q":"status"}`, string(sent.Data))

	boom := errors.New("boom")
	_, err = Call[statusReply](context.Background(), func(context.Context, []byte, time.Duration) ([]byte, error) {
		return nil, boom
	}, 1, nil, time.Second)
	assert.ErrorIs(t, err, boom)

	_, err = Call[statusReply](context.Background(), func(context.Context, []byte, time.Duration) ([]byte, error) {
		return []byte(`{"id":"x","data":"not an object"}`), nil
	}, 1, nil, time.Second)
	assert.ErrorContains(t, err, "failed to unmarshal response data")
}
