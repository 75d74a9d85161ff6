package port_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraph/core/internal/domain/port"
)

func stringConfig() *port.Config {
	return &port.Config{Kind: port.KindString}
}

func TestConfig_Validate_ArrayRequiresItemConfig(t *testing.T) {
	cfg := &port.Config{Kind: port.KindArray}
	require.Error(t, cfg.Validate())

	cfg.ItemConfig = stringConfig()
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate_EnumRequiresOptions(t *testing.T) {
	cfg := &port.Config{Kind: port.KindEnum}
	require.Error(t, cfg.Validate())

	cfg.Options = []string{"a", "b"}
	require.NoError(t, cfg.Validate())
}

func TestConfig_CompatibleWith_AnyIsUniversal(t *testing.T) {
	any := &port.Config{Kind: port.KindAny}
	str := stringConfig()
	assert.True(t, any.CompatibleWith(str))
	assert.True(t, str.CompatibleWith(any))
}

func TestConfig_CompatibleWith_MismatchedKindsRejected(t *testing.T) {
	str := stringConfig()
	num := &port.Config{Kind: port.KindNumber}
	assert.False(t, str.CompatibleWith(num))
}

func TestConfig_CompatibleWith_ArrayComparesItemConfig(t *testing.T) {
	strArr := &port.Config{Kind: port.KindArray, ItemConfig: stringConfig()}
	numArr := &port.Config{Kind: port.KindArray, ItemConfig: &port.Config{Kind: port.KindNumber}}
	assert.False(t, strArr.CompatibleWith(numArr))

	strArr2 := &port.Config{Kind: port.KindArray, ItemConfig: stringConfig()}
	assert.True(t, strArr.CompatibleWith(strArr2))
}

func TestNew_RejectsEmptyID(t *testing.T) {
	_, err := port.New("", "k", port.DirectionInput, stringConfig(), false, nil)
	require.Error(t, err)
}

func TestNew_KeyDefaultsToID(t *testing.T) {
	p, err := port.New("p1", "", port.DirectionInput, stringConfig(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, "p1", p.Key())
}

func TestPort_ResolveIsIdempotent(t *testing.T) {
	p, err := port.New("p1", "p1", port.DirectionInput, stringConfig(), false, nil)
	require.NoError(t, err)

	p.Resolve("hello")
	assert.True(t, p.Resolved())
	assert.Equal(t, "hello", p.GetValue())

	p.Resolve(nil) // idempotent no-op on value, keeps resolved
	assert.True(t, p.Resolved())
	assert.Equal(t, "hello", p.GetValue())
}

func TestPort_Reset_RestoresDefaultAndClearsResolution(t *testing.T) {
	p, err := port.New("p1", "p1", port.DirectionInput, stringConfig(), false, "default")
	require.NoError(t, err)

	p.SetValue("overridden")
	p.Resolve(nil)
	require.True(t, p.Resolved())

	p.Reset()
	assert.False(t, p.Resolved())
	assert.Equal(t, "default", p.GetValue())
}

func TestPort_Validate_RequiredWithoutValueFails(t *testing.T) {
	p, err := port.New("p1", "p1", port.DirectionInput, stringConfig(), true, nil)
	require.NoError(t, err)
	require.Error(t, p.Validate())

	p.Resolve("set")
	require.NoError(t, p.Validate())
}

func TestPort_Serialize_MasksSecretValue(t *testing.T) {
	p, err := port.New("secret1", "secret1", port.DirectionInput, &port.Config{Kind: port.KindSecret}, false, nil)
	require.NoError(t, err)
	p.SetValue("super-secret")

	raw, err := p.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "••••••••")
	assert.NotContains(t, string(raw), "super-secret")
}

func TestPort_SerializeDeserialize_RoundTripsNonSecretValue(t *testing.T) {
	p, err := port.New("p1", "p1", port.DirectionOutput, stringConfig(), false, nil)
	require.NoError(t, err)
	p.SetValue("round-trip")

	raw, err := p.Serialize()
	require.NoError(t, err)

	p2, err := port.Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, "round-trip", p2.GetValue())
	assert.Equal(t, p.ID(), p2.ID())
}

func TestPort_Deserialize_DoesNotRestoreSecretValue(t *testing.T) {
	p, err := port.New("secret1", "secret1", port.DirectionInput, &port.Config{Kind: port.KindSecret}, false, nil)
	require.NoError(t, err)
	p.SetValue("super-secret")

	raw, err := p.Serialize()
	require.NoError(t, err)

	p2, err := port.Deserialize(raw)
	require.NoError(t, err)
	assert.Nil(t, p2.GetValue())
}

func TestPort_IsSystem(t *testing.T) {
	p, err := port.New("sys", "sys", port.DirectionSystem, stringConfig(), false, nil)
	require.NoError(t, err)
	assert.True(t, p.IsSystem())
}
