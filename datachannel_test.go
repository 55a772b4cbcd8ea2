package alohartc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDataChannelStartsConnecting(t *testing.T) {
	dc := newDataChannel("control", 3)
	assert.Equal(t, "control", dc.Label())
	assert.EqualValues(t, 3, dc.ID())
	assert.Equal(t, DataChannelStateConnecting, dc.State())
}

func TestDataChannelSetState(t *testing.T) {
	dc := newDataChannel("control", 0)
	dc.setState(DataChannelStateOpen)
	assert.Equal(t, DataChannelStateOpen, dc.State())
	dc.setState(DataChannelStateClosed)
	assert.Equal(t, DataChannelStateClosed, dc.State())
}
