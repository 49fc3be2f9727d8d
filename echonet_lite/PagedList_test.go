package echonet_lite

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagedList_Empty(t *testing.T) {
	l := NewInstanceList()
	assert.Equal(t, []byte{0x00}, l.Page(0))
	assert.Empty(t, l.Page(1))
	assert.Equal(t, [][]byte{{0x00}}, l.Pages())
}

func TestPagedList_AddSuppressesDuplicates(t *testing.T) {
	l := NewInstanceList()
	assert.True(t, l.Add(MakeEOJ(0x0130, 1)))
	assert.False(t, l.Add(MakeEOJ(0x0130, 1)))
	assert.True(t, l.Add(MakeEOJ(0x0130, 2)))
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Contains(MakeEOJ(0x0130, 2)))
	assert.Equal(t, []byte{0x02, 0x01, 0x30, 0x01, 0x01, 0x30, 0x02}, l.Page(0))
}

func TestPagedList_InstancePages(t *testing.T) {
	l := NewInstanceList()
	var want []EOJ
	for i := 0; i < 200; i++ {
		eoj := MakeEOJ(EOJClassCode(0x0100+i/100), EOJInstanceCode(i%100+1))
		require.True(t, l.Add(eoj))
		want = append(want, eoj)
	}

	pages := l.Pages()
	require.Len(t, pages, 3)
	assert.Len(t, pages[0], 1+84*3)
	assert.Len(t, pages[1], 1+84*3)
	assert.Len(t, pages[2], 1+32*3)
	assert.Empty(t, l.Page(3))

	var got []EOJ
	for _, page := range pages {
		total, eojs := DecodeInstanceListPage(page)
		assert.Equal(t, 200, total)
		got = append(got, eojs...)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reconstructed list mismatch (-want +got):\n%s", diff)
	}
}

func TestPagedList_TotalCapsAt255(t *testing.T) {
	l := NewInstanceList()
	for i := 0; i < 300; i++ {
		l.Add(MakeEOJ(EOJClassCode(0x0200+i/128), EOJInstanceCode(i%128+1)))
	}
	for _, page := range l.Pages() {
		assert.Equal(t, byte(0xff), page[0])
	}
	assert.Len(t, l.Pages(), 4)
}

func TestPagedList_ClassPages(t *testing.T) {
	l := NewClassList()
	for i := 0; i < 10; i++ {
		l.Add(EOJClassCode(0x0130 + i))
	}

	assert.Len(t, l.Page(0), 1+8*2)
	assert.Equal(t, []byte{0x0a, 0x01, 0x38, 0x01, 0x39}, l.Page(1))
	assert.Empty(t, l.Page(2))

	total, classes := DecodeClassListPage(l.Page(1))
	assert.Equal(t, 10, total)
	assert.Equal(t, []EOJClassCode{0x0138, 0x0139}, classes)
}
