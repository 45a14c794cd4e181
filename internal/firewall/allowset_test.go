//go:build linux
// +build linux

package firewall

import (
	"net"
	"testing"
	"time"

	"github.com/google/nftables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestAllowSet() (*AllowSet, *MockNFTablesConn, *nftables.Set) {
	mockConn := NewMockNFTablesConn()
	table := &nftables.Table{Name: "netfence", Family: nftables.TableFamilyINet}
	set := &nftables.Set{Name: AllowSetName, Table: table, KeyType: nftables.TypeIPAddr, HasTimeout: true}

	mockConn.On("ListTables").Return([]*nftables.Table{table}, nil)
	mockConn.On("GetSets", table).Return([]*nftables.Set{set}, nil)

	return NewAllowSet(mockConn, "netfence"), mockConn, set
}

func TestAllowSet_Rebuild(t *testing.T) {
	allowSet, mockConn, set := newTestAllowSet()

	var captured []nftables.SetElement
	mockConn.On("FlushSet", set)
	mockConn.On("SetAddElements", set, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).([]nftables.SetElement)
	}).Return(nil)
	mockConn.On("Flush").Return(nil)

	ips := []net.IP{
		net.ParseIP("203.0.113.10"),
		net.ParseIP("198.51.100.7"),
	}
	err := allowSet.Rebuild(ips, time.Hour)
	assert.NoError(t, err)

	// Flush then refill in one commit
	mockConn.AssertCalled(t, "FlushSet", set)
	mockConn.AssertCalled(t, "SetAddElements", set, mock.Anything)
	mockConn.AssertNumberOfCalls(t, "Flush", 1)

	assert.Len(t, captured, 2)
	for _, elem := range captured {
		assert.Len(t, []byte(elem.Key), 4)
		assert.Equal(t, time.Hour, elem.Timeout)
	}
}

func TestAllowSet_Rebuild_SkipsNonIPv4(t *testing.T) {
	allowSet, mockConn, set := newTestAllowSet()

	var captured []nftables.SetElement
	mockConn.On("FlushSet", set)
	mockConn.On("SetAddElements", set, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).([]nftables.SetElement)
	}).Return(nil)
	mockConn.On("Flush").Return(nil)

	ips := []net.IP{
		net.ParseIP("203.0.113.10"),
		net.ParseIP("2001:db8::1"),
	}
	err := allowSet.Rebuild(ips, time.Minute)
	assert.NoError(t, err)
	assert.Len(t, captured, 1)
}

func TestAllowSet_Rebuild_Empty(t *testing.T) {
	allowSet, mockConn, set := newTestAllowSet()

	mockConn.On("FlushSet", set)
	mockConn.On("Flush").Return(nil)

	err := allowSet.Rebuild(nil, time.Hour)
	assert.NoError(t, err)

	mockConn.AssertCalled(t, "FlushSet", set)
	mockConn.AssertNotCalled(t, "SetAddElements", mock.Anything, mock.Anything)
	mockConn.AssertCalled(t, "Flush")
}

func TestAllowSet_Members(t *testing.T) {
	allowSet, mockConn, set := newTestAllowSet()

	mockConn.On("GetSetElements", set).Return([]nftables.SetElement{
		{Key: []byte{8, 8, 8, 8}},
		{Key: []byte{1, 1, 1, 1}},
	}, nil)

	members, err := allowSet.Members()
	assert.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1", "8.8.8.8"}, members)
}

func TestAllowSet_Contains(t *testing.T) {
	allowSet, mockConn, set := newTestAllowSet()

	mockConn.On("GetSetElements", set).Return([]nftables.SetElement{
		{Key: []byte{8, 8, 8, 8}},
	}, nil)

	ok, err := allowSet.Contains(net.ParseIP("8.8.8.8"))
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = allowSet.Contains(net.ParseIP("9.9.9.9"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestAllowSet_TableMissing(t *testing.T) {
	mockConn := NewMockNFTablesConn()
	mockConn.On("ListTables").Return(nil, nil)

	allowSet := NewAllowSet(mockConn, "netfence")

	err := allowSet.Rebuild([]net.IP{net.ParseIP("1.1.1.1")}, time.Hour)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
