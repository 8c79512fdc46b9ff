package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimeframe(t *testing.T) {
	t.Run("known keys", func(t *testing.T) {
		tf, err := ParseTimeframe("1h")
		assert.NoError(t, err)
		assert.Equal(t, "1h", tf.Key)
		assert.Equal(t, time.Hour, tf.Duration)
	})

	t.Run("case and whitespace normalized", func(t *testing.T) {
		tf, err := ParseTimeframe("  1H ")
		assert.NoError(t, err)
		assert.Equal(t, "1h", tf.Key)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := ParseTimeframe("7m")
		assert.Error(t, err)
		assert.False(t, IsTimeframe("7m"))
	})

	t.Run("supported list sorted", func(t *testing.T) {
		keys := SupportedTimeframes()
		assert.Contains(t, keys, "1m")
		assert.Contains(t, keys, "1w")
		assert.True(t, IsTimeframe(keys[0]))
	})
}

func TestTimeframeAlignRange(t *testing.T) {
	tf, _ := ParseTimeframe("1h")
	hour := int64(3_600_000)

	t.Run("aligns down to grid", func(t *testing.T) {
		start, end := tf.AlignRange(hour+5, 3*hour+5)
		assert.Equal(t, hour, start)
		assert.Equal(t, 3*hour, end)
	})

	t.Run("swaps inverted bounds", func(t *testing.T) {
		start, end := tf.AlignRange(3*hour, hour)
		assert.Equal(t, hour, start)
		assert.Equal(t, 3*hour, end)
	})
}

func TestTimeframeExpectedCandles(t *testing.T) {
	tf, _ := ParseTimeframe("1m")
	assert.Equal(t, int64(1), tf.ExpectedCandles(60_000, 60_000))
	assert.Equal(t, int64(5), tf.ExpectedCandles(60_000, 300_000))
	assert.Equal(t, int64(0), tf.ExpectedCandles(300_000, 60_000))
}

func TestCandleTimestamp(t *testing.T) {
	c := Candle{OpenTime: 1_700_000_000_000, CloseTime: 1_700_000_059_999}
	assert.Equal(t, int64(1_700_000_000_000), c.Timestamp())
}
