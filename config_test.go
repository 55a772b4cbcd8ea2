package alohartc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lanikai/alohartc/sdp"
)

func TestConfigBundlePolicyDefaultsToMaxBundle(t *testing.T) {
	var c Config
	assert.Equal(t, sdp.BundlePolicyMaxBundle, c.bundlePolicy())

	c.BundlePolicy = sdp.BundlePolicyDisable
	assert.Equal(t, sdp.BundlePolicyDisable, c.bundlePolicy())
}

func TestConfigCodecsForKind(t *testing.T) {
	c := Config{
		AudioCodecs: []sdp.Codec{{Name: "opus"}},
		VideoCodecs: []sdp.Codec{{Name: "VP8"}, {Name: "VP9"}},
	}
	assert.Equal(t, c.AudioCodecs, c.codecsFor("audio"))
	assert.Equal(t, c.VideoCodecs, c.codecsFor("video"))
}
