package intent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]string{
		"My car won't start, I'm stuck on I-95":  Emergency,
		"URGENT need help":                       Emergency,
		"Can I book an appointment for Tuesday?": Booking,
		"How much for new brake pads?":           Quote,
		"Is my truck ready yet?":                 Status,
		"thanks!":                                General,
		// emergency outranks booking
		"broke down, can you schedule a tow": Emergency,
	}
	for text, want := range cases {
		require.Equal(t, want, Classify(text).Intent, text)
	}
}

func TestClassify_FillsActionAndResponse(t *testing.T) {
	r := Classify("need a quote")
	require.Equal(t, "send_quote", r.Action)
	require.NotEmpty(t, r.Response)
}

func TestIsEmergency(t *testing.T) {
	require.True(t, IsEmergency("EMERGENCY"))
	require.True(t, IsEmergency("roadside-emergency"))
	require.False(t, IsEmergency("booking"))
	require.False(t, IsEmergency(""))
}
