package twiliowhatsapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCreator struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeCreator) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, p)
	return &twilioApi.ApiV2010Message{}, f.err
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(WithFromWhats("+14155238886"))
	assert.Error(t, err)

	_, err = NewClient(WithAccountSID("AC123"), WithAuthToken("tok"))
	assert.Error(t, err)

	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("+14155238886"))
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+14155238886", c.fromWhats)
}

func TestWhatsAppAddress(t *testing.T) {
	for _, in := range []string{"5511999990000", "+5511999990000", "whatsapp:+5511999990000", " whatsapp:5511999990000 "} {
		assert.Equal(t, "whatsapp:+5511999990000", WhatsAppAddress(in), in)
	}
}

func TestClient_SendMessage(t *testing.T) {
	fc := &fakeCreator{}
	c := &Client{api: fc, fromWhats: "whatsapp:+14155238886"}

	require.NoError(t, c.SendMessage(context.Background(), "5511999990000", "Olá"))
	require.Len(t, fc.params, 1)
	assert.Equal(t, "whatsapp:+5511999990000", *fc.params[0].To)
	assert.Equal(t, "whatsapp:+14155238886", *fc.params[0].From)
	assert.Equal(t, "Olá", *fc.params[0].Body)

	fc.err = errors.New("boom")
	assert.Error(t, c.SendMessage(context.Background(), "5511999990000", "Olá"))
}

func TestClient_FetchMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "audio/ogg")
		w.Write([]byte("OggS"))
	}))
	defer srv.Close()

	c := &Client{accountSID: "AC123", authToken: "tok", http: srv.Client()}
	b, ct, err := c.FetchMedia(context.Background(), srv.URL+"/Media/ME1")
	require.NoError(t, err)
	assert.Equal(t, []byte("OggS"), b)
	assert.Equal(t, "audio/ogg", ct)

	c.authToken = "wrong"
	_, _, err = c.FetchMedia(context.Background(), srv.URL+"/Media/ME1")
	assert.Error(t, err)
}

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	require.NoError(t, err)
	require.Len(t, mock.SentMessages, 1)
	assert.Equal(t, "Hello Test", mock.SentMessages[0].Body)
}
