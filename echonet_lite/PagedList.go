package echonet_lite

// 自ノードインスタンスリストS (0xD6) のように件数の上限が無いリストを、
// 1フレームに収まるページへ分割してエンコードする。
//
// ページのレイアウト:
//   1バイト目: 全体の件数 (255 で頭打ち)
//   2バイト目以降: そのページに含まれるレコード
// 空のリストの 0 ページ目は {0x00}、データの範囲外のページは空のバイト列になる。

const (
	// InstanceListPageSize は 3バイトのEOJを1ページに並べられる数
	InstanceListPageSize = 84
	// ClassListPageSize は 2バイトのクラスコードを1ページに並べられる数
	ClassListPageSize = 8
)

// PagedList は重複を除いた固定長レコードを挿入順に保持し、ページ単位でエンコードします。
type PagedList[T comparable] struct {
	recordSize int
	maxPerPage int
	encode     func(T) []byte
	records    []T
	index      map[T]struct{}
}

func NewPagedList[T comparable](recordSize, maxPerPage int, encode func(T) []byte) *PagedList[T] {
	return &PagedList[T]{
		recordSize: recordSize,
		maxPerPage: maxPerPage,
		encode:     encode,
		index:      make(map[T]struct{}),
	}
}

// NewInstanceList は 0xD5/0xD6 用のEOJリストを作成します。
func NewInstanceList() *PagedList[EOJ] {
	return NewPagedList(3, InstanceListPageSize, EOJ.Encode)
}

// NewClassList は 0xD7 用のクラスリストを作成します。
func NewClassList() *PagedList[EOJClassCode] {
	return NewPagedList(2, ClassListPageSize, EOJClassCode.Encode)
}

// Add はレコードを追加します。既に含まれていれば false を返します。
func (l *PagedList[T]) Add(record T) bool {
	if _, ok := l.index[record]; ok {
		return false
	}
	l.index[record] = struct{}{}
	l.records = append(l.records, record)
	return true
}

func (l *PagedList[T]) Contains(record T) bool {
	_, ok := l.index[record]
	return ok
}

func (l *PagedList[T]) Len() int {
	return len(l.records)
}

func (l *PagedList[T]) Records() []T {
	return append([]T(nil), l.records...)
}

// Page は index 番目のページをエンコードします。
func (l *PagedList[T]) Page(index int) []byte {
	first := l.maxPerPage * index
	last := min(first+l.maxPerPage, len(l.records))
	if index < 0 || last <= first {
		if index == 0 {
			return []byte{0x00}
		}
		return []byte{}
	}

	data := make([]byte, 1, 1+l.recordSize*(last-first))
	data[0] = byte(min(len(l.records), 0xff))
	for _, record := range l.records[first:last] {
		data = append(data, l.encode(record)[:l.recordSize]...)
	}
	return data
}

// Pages は空のページが現れるまでのすべてのページを返します。空のリストでも {0x00} の1ページを返します。
func (l *PagedList[T]) Pages() [][]byte {
	var pages [][]byte
	for i := 0; ; i++ {
		page := l.Page(i)
		if len(page) == 0 {
			return pages
		}
		pages = append(pages, page)
		if len(l.records) == 0 {
			return pages
		}
	}
}

// DecodeInstanceListPage は 0xD5/0xD6 のページから件数とEOJを取り出します。
// 端数のバイトは読み捨てます。
func DecodeInstanceListPage(data []byte) (int, []EOJ) {
	if len(data) < 1 {
		return 0, nil
	}
	total := int(data[0])
	var eojs []EOJ
	for pos := 1; pos+3 <= len(data); pos += 3 {
		eojs = append(eojs, DecodeEOJ(data[pos:pos+3]))
	}
	return total, eojs
}

// DecodeClassListPage は 0xD7 のページから件数とクラスコードを取り出します。
func DecodeClassListPage(data []byte) (int, []EOJClassCode) {
	if len(data) < 1 {
		return 0, nil
	}
	total := int(data[0])
	var classes []EOJClassCode
	for pos := 1; pos+2 <= len(data); pos += 2 {
		classes = append(classes, DecodeEOJClassCode(data[pos:pos+2]))
	}
	return total, classes
}
