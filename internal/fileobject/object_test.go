package fileobject

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/model"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	obj := New(0, dir, nil)

	status := obj.Write(0, []objectproxy.ResourceValue{
		{ID: 0, Type: objectproxy.TypeString, String: "coaps://localhost:5684"},
		{ID: 1, Type: objectproxy.TypeBoolean, Boolean: false},
	})
	require.Equal(t, objectproxy.StatusChanged, status)

	values, status := obj.Read(0, nil)
	require.Equal(t, objectproxy.StatusContent, status)
	require.Len(t, values, 2)
}

func TestListInstanceIDsSorted(t *testing.T) {
	dir := t.TempDir()
	obj := New(1, dir, nil)

	require.Equal(t, objectproxy.StatusCreated, obj.Create(2, nil))
	require.Equal(t, objectproxy.StatusCreated, obj.Create(0, nil))
	require.Equal(t, objectproxy.StatusCreated, obj.Create(1, nil))

	ids, status := obj.ListInstanceIDs()
	require.Equal(t, objectproxy.StatusContent, status)
	require.Equal(t, []uint16{0, 1, 2}, ids)
}

func TestReadMissingInstanceNotFound(t *testing.T) {
	dir := t.TempDir()
	obj := New(0, dir, nil)
	_, status := obj.Read(5, nil)
	require.Equal(t, objectproxy.StatusNotFound, status)
}

func TestExecuteNotAllowed(t *testing.T) {
	obj := New(0, t.TempDir(), nil)
	require.Equal(t, objectproxy.StatusMethodNotAllowed, obj.Execute(0, 0, nil))
}

func TestDeleteRemovesInstanceDirectory(t *testing.T) {
	dir := t.TempDir()
	obj := New(0, dir, nil)
	require.Equal(t, objectproxy.StatusCreated, obj.Create(0, nil))
	require.Equal(t, objectproxy.StatusDeleted, obj.Delete(0))

	_, err := obj.resourceIDs(0)
	require.Error(t, err)
}

func TestReadUsesRegistryDataType(t *testing.T) {
	dir := t.TempDir()
	registry := model.Registry{
		&model.ObjectDefinition{
			ID: 1,
			Resources: []*model.ResourceDefinition{
				{ID: 1, Type: model.DataTypeInteger},
			},
		},
	}
	obj := New(1, dir, registry)
	require.Equal(t, objectproxy.StatusChanged, obj.Write(0, []objectproxy.ResourceValue{
		{ID: 1, Type: objectproxy.TypeInteger, Integer: 60},
	}))

	values, status := obj.Read(0, []uint16{1})
	require.Equal(t, objectproxy.StatusContent, status)
	require.Len(t, values, 1)
	require.Equal(t, int64(60), values[0].Integer)
	require.Equal(t, objectproxy.TypeInteger, values[0].Type)

	require.Equal(t, filepath.Join(dir, "1", "0", "1"), obj.resourcePath(0, 1))
}
