package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/willjschmitt/andes/internal/service"
)

func newBusModel() *Model {
	m := NewModel("Bus", "")
	m.AddNum(NewNumParam("Vn", "nominal voltage (kV)", 110, NonNegative()))
	m.AddNum(NewNumParam("v0", "initial voltage magnitude (pu)", 1))
	return m
}

func TestModel_AddDevice(t *testing.T) {
	t.Parallel()

	m := newBusModel()
	idx, err := m.AddDevice(map[string]any{"idx": "b1", "Vn": 230.0})
	require.NoError(t, err)
	require.Equal(t, "b1", idx)
	require.Equal(t, 1, m.Count())

	vn, err := m.Values("Vn")
	require.NoError(t, err)
	require.Equal(t, []float64{230}, vn)

	// Defaults fill omitted parameters.
	v0, err := m.Values("v0")
	require.NoError(t, err)
	require.Equal(t, []float64{1}, v0)
}

func TestModel_AddDevice_MintsIdx(t *testing.T) {
	t.Parallel()

	m := newBusModel()
	idx, err := m.AddDevice(map[string]any{})
	require.NoError(t, err)
	require.NotEmpty(t, idx)
	require.Contains(t, idx, "Bus_")
}

func TestModel_AddDevice_Rejections(t *testing.T) {
	t.Parallel()

	m := newBusModel()
	_, err := m.AddDevice(map[string]any{"bogus": 1.0})
	require.ErrorContains(t, err, `no parameter "bogus"`)

	_, err = m.AddDevice(map[string]any{"Vn": "not a number"})
	require.ErrorContains(t, err, "must be numeric")

	_, err = m.AddDevice(map[string]any{"Vn": -5.0})
	require.ErrorContains(t, err, "non-negative")

	_, err = m.AddDevice(map[string]any{"idx": "b1"})
	require.NoError(t, err)
	_, err = m.AddDevice(map[string]any{"idx": "b1"})
	require.ErrorContains(t, err, "duplicate idx")
}

func TestModel_Idx2UID(t *testing.T) {
	t.Parallel()

	m := newBusModel()
	for _, idx := range []string{"b1", "b2", "b3"} {
		_, err := m.AddDevice(map[string]any{"idx": idx})
		require.NoError(t, err)
	}

	uids, err := m.Idx2UID([]string{"b3", "b1"})
	require.NoError(t, err)
	require.Equal(t, []int{2, 0}, uids)

	_, err = m.Idx2UID([]string{"b9"})
	require.ErrorIs(t, err, ErrUnknownIndex)
}

func TestModel_NamespaceOmitsUnresolvedServices(t *testing.T) {
	t.Parallel()

	m := NewModel("GENCLS", GroupSynGen)
	m.AddNum(NewNumParam("M", "inertia", 6))
	cs := service.NewConst("M2", "2 * M")
	m.AddService(cs)
	_, err := m.AddDevice(map[string]any{"idx": "g1", "M": 8.0})
	require.NoError(t, err)

	ns := m.Namespace()
	require.Contains(t, ns, "M")
	require.NotContains(t, ns, "M2")

	require.NoError(t, cs.Resolve(context.Background()))
	ns = m.Namespace()
	require.Equal(t, []float64{16}, ns["M2"])
}

func TestModel_ServiceDeclarationOrderIsResolutionOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewModel("Demo", "")
	m.AddNum(NewNumParam("M", "inertia", 6))
	first := service.NewConst("a", "2 * M")
	second := service.NewConst("b", "a + 1")
	m.AddService(first)
	m.AddService(second)
	_, err := m.AddDevice(map[string]any{"idx": "d1"})
	require.NoError(t, err)

	// Resolving in declaration order succeeds.
	for _, svc := range m.Services() {
		require.NoError(t, svc.(*service.Const).Resolve(ctx))
	}
	b, err := m.Values("b")
	require.NoError(t, err)
	require.Equal(t, []float64{13}, b)
}

func TestModel_ForwardServiceReferenceFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// "a" reads "b", declared later: the namespace does not contain b yet,
	// so resolving in declaration order must fail loudly.
	m := NewModel("Demo", "")
	m.AddNum(NewNumParam("M", "inertia", 6))
	m.AddService(service.NewConst("a", "b + 1"))
	m.AddService(service.NewConst("b", "2 * M"))
	_, err := m.AddDevice(map[string]any{"idx": "d1"})
	require.NoError(t, err)

	err = m.Services()[0].(*service.Const).Resolve(ctx)
	require.ErrorContains(t, err, `unknown name "b"`)
}
