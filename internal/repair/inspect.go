package repair

import (
	"errors"
	"fmt"

	"github.com/hupe1980/rumgo/codec"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/mmap"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/model"
)

// ErrNoMeta is returned when page 0 is not a meta page.
var ErrNoMeta = errors.New("repair: page 0 is not a meta page")

// Source yields decoded pages.
type Source interface {
	NumPages() uint32
	PageSize() int
	Page(id uint32) (*page.Page, error)
}

type live struct{ m *buffer.Manager }

// Live returns a Source reading through the buffer pool of m.
func Live(m *buffer.Manager) Source { return live{m} }

func (l live) NumPages() uint32 { return l.m.NumPages() }
func (l live) PageSize() int    { return l.m.PageSize() }

func (l live) Page(id uint32) (*page.Page, error) {
	b, err := l.m.Read(id, buffer.LockShare)
	if err != nil {
		return nil, err
	}
	defer b.Done(buffer.LockShare)
	return b.Page(), nil
}

// File is a Source over a page file mapped read-only. It sees the pages as
// of the last checkpoint; images still only in the redo log are missing.
type File struct {
	m        *mmap.Mapping
	pageSize int
	pages    uint32
}

// OpenFile maps the page file at path. A zero pageSize is detected from
// the meta page.
func OpenFile(path string, pageSize int) (*File, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	if pageSize == 0 {
		pageSize, err = detectPageSize(m)
		if err != nil {
			m.Close()
			return nil, err
		}
	}
	n, err := m.Pages(pageSize)
	if err != nil {
		m.Close()
		return nil, err
	}
	_ = m.Advise(mmap.AccessRandom)
	return &File{m: m, pageSize: pageSize, pages: n}, nil
}

func detectPageSize(m *mmap.Mapping) (int, error) {
	for size := page.MinSize; size <= page.MaxSize; size *= 2 {
		if m.Size() < size || m.Size()%size != 0 {
			continue
		}
		img, err := m.Page(page.MetaID, size)
		if err != nil {
			continue
		}
		if p, err := page.Decode(page.MetaID, img); err == nil && p.IsMeta() {
			return size, nil
		}
	}
	return 0, fmt.Errorf("%w: no page size matches", page.ErrCorrupt)
}

func (f *File) NumPages() uint32 { return f.pages }
func (f *File) PageSize() int    { return f.pageSize }

// Page decodes page id. Never-written pages read as free.
func (f *File) Page(id uint32) (*page.Page, error) {
	if id >= f.pages {
		return nil, fmt.Errorf("%w: %d", buffer.ErrNoPage, id)
	}
	img, err := f.m.Page(id, f.pageSize)
	if err != nil {
		return nil, err
	}
	p, err := page.Decode(id, img)
	if errors.Is(err, page.ErrZero) {
		return page.New(id, page.FlagFree, 0), nil
	}
	return p, err
}

// Close unmaps the file.
func (f *File) Close() error { return f.m.Close() }

// MetaInfo describes the meta page.
type MetaInfo struct {
	Version      string   `json:"version"`
	PageSize     int      `json:"pageSize"`
	FilePages    uint32   `json:"filePages"`
	AddInfo      bool     `json:"addInfo"`
	Complete     bool     `json:"complete"`
	TotalPages   uint32   `json:"totalPages"`
	EntryPages   uint32   `json:"entryPages"`
	DataPages    uint32   `json:"dataPages"`
	Entries      uint64   `json:"entries"`
	PostingTrees uint32   `json:"postingTrees"`
	Free         []uint32 `json:"free,omitempty"`
}

// PageInfo holds the header statistics of one page.
type PageInfo struct {
	ID        uint32   `json:"id"`
	Kind      string   `json:"kind"`
	Flags     []string `json:"flags"`
	Level     uint16   `json:"level"`
	Left      int64    `json:"left"`
	Right     int64    `json:"right"`
	CycleID   uint16   `json:"cycleId"`
	DeleteXID uint64   `json:"deleteXid,omitempty"`
	LSN       uint64   `json:"lsn"`
	Count     int      `json:"count"`
	Used      int      `json:"used"`
	Free      int      `json:"free"`
	High      string   `json:"high,omitempty"`
}

// EntryInfo is one entry tuple.
type EntryInfo struct {
	Key      string   `json:"key"`
	Attr     uint16   `json:"attr"`
	Category string   `json:"category"`
	Tree     int64    `json:"tree"`
	Items    int      `json:"items"`
	Locators []string `json:"locators,omitempty"`
}

// DownlinkInfo is one downlink of an internal page.
type DownlinkInfo struct {
	High  string `json:"high"`
	Child uint32 `json:"child"`
}

// ItemInfo is one posting.
type ItemInfo struct {
	Locator string `json:"locator"`
	AddInfo *int64 `json:"addInfo,omitempty"`
}

// LandmarkInfo is one jump index slot of a posting leaf.
type LandmarkInfo struct {
	Prev   string `json:"prev"`
	Offset uint16 `json:"offset"`
	Index  uint16 `json:"index"`
}

// PageContents is a page with its decoded tuples or items.
type PageContents struct {
	PageInfo
	Meta      *MetaInfo      `json:"meta,omitempty"`
	Entries   []EntryInfo    `json:"entries,omitempty"`
	Downlinks []DownlinkInfo `json:"downlinks,omitempty"`
	Items     []ItemInfo     `json:"items,omitempty"`
	Landmarks []LandmarkInfo `json:"landmarks,omitempty"`
}

// Inspector renders pages of a Source.
type Inspector struct {
	src     Source
	codec   codec.Codec
	addInfo bool
}

// NewInspector reads the meta page of src. A nil codec uses codec.Default.
func NewInspector(src Source, c codec.Codec) (*Inspector, error) {
	if c == nil {
		c = codec.Default
	}
	p, err := src.Page(page.MetaID)
	if err != nil {
		return nil, err
	}
	if !p.IsMeta() || p.Meta == nil {
		return nil, ErrNoMeta
	}
	return &Inspector{src: src, codec: c, addInfo: p.Meta.AddInfo}, nil
}

// Meta describes the meta page.
func (in *Inspector) Meta() (MetaInfo, error) {
	p, err := in.src.Page(page.MetaID)
	if err != nil {
		return MetaInfo{}, err
	}
	if p.Meta == nil {
		return MetaInfo{}, ErrNoMeta
	}
	return in.meta(p.Meta), nil
}

func (in *Inspector) meta(m *page.Meta) MetaInfo {
	return MetaInfo{
		Version:      fmt.Sprintf("%#x", m.Version),
		PageSize:     in.src.PageSize(),
		FilePages:    in.src.NumPages(),
		AddInfo:      m.AddInfo,
		Complete:     m.Complete,
		TotalPages:   m.TotalPages,
		EntryPages:   m.EntryPages,
		DataPages:    m.DataPages,
		Entries:      m.Entries,
		PostingTrees: m.PostingTrees,
		Free:         m.Free,
	}
}

// Stats describes the header of page id.
func (in *Inspector) Stats(id uint32) (PageInfo, error) {
	p, err := in.src.Page(id)
	if err != nil {
		return PageInfo{}, err
	}
	return in.info(p), nil
}

// All describes every page of the source.
func (in *Inspector) All() ([]PageInfo, error) {
	n := in.src.NumPages()
	out := make([]PageInfo, 0, n)
	for id := uint32(0); id < n; id++ {
		info, err := in.Stats(id)
		if err != nil {
			return out, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (in *Inspector) info(p *page.Page) PageInfo {
	used := page.HeaderSize + p.Size()
	info := PageInfo{
		ID:        p.ID,
		Kind:      Kind(p),
		Flags:     FlagNames(p.Flags),
		Level:     p.Level,
		Left:      link(p.Left),
		Right:     link(p.Right),
		CycleID:   p.CycleID,
		DeleteXID: p.DeleteXID,
		LSN:       p.LSN,
		Count:     p.Count(),
		Used:      used,
		Free:      in.src.PageSize() - used,
	}
	if !p.IsMeta() && !p.IsFree() {
		info.High = bound(p.High, p.IsData())
	}
	return info
}

// Contents decodes page id.
func (in *Inspector) Contents(id uint32) (PageContents, error) {
	p, err := in.src.Page(id)
	if err != nil {
		return PageContents{}, err
	}
	c := PageContents{PageInfo: in.info(p)}
	switch {
	case p.IsMeta():
		if p.Meta != nil {
			m := in.meta(p.Meta)
			c.Meta = &m
		}
	case p.IsFree():
	case !p.IsLeaf():
		for _, d := range p.Downlinks {
			c.Downlinks = append(c.Downlinks, DownlinkInfo{High: bound(d.High, p.IsData()), Child: d.Child})
		}
	case p.IsData():
		items, err := p.Items(in.addInfo, false)
		if err != nil {
			return c, err
		}
		c.Items = itemInfos(items)
		for _, lm := range p.Index {
			c.Landmarks = append(c.Landmarks, LandmarkInfo{Prev: lm.Prev.String(), Offset: lm.Offset, Index: lm.Index})
		}
	default:
		for i := range p.Entries {
			e := &p.Entries[i]
			info := EntryInfo{
				Key:      e.Key.String(),
				Attr:     e.Key.Attr,
				Category: e.Key.Category.String(),
				Tree:     link(e.Root),
				Items:    e.NItems,
			}
			if !e.HasTree() {
				items, err := posting.Decode(e.Data, e.NItems, in.addInfo, false)
				if err != nil {
					return c, fmt.Errorf("%w: page %d entry %s: %v", page.ErrCorrupt, p.ID, e.Key, err)
				}
				info.Locators = locators(items)
			}
			c.Entries = append(c.Entries, info)
		}
	}
	return c, nil
}

// JSON encodes v, indented when the codec supports it.
func (in *Inspector) JSON(v any) ([]byte, error) {
	if ind, ok := in.codec.(codec.Indenter); ok {
		return ind.MarshalIndent(v)
	}
	return in.codec.Marshal(v)
}

// Kind names the page type.
func Kind(p *page.Page) string {
	switch {
	case p.IsMeta():
		return "meta"
	case p.IsFree():
		return "free"
	case p.IsData() && p.IsLeaf():
		return "posting-leaf"
	case p.IsData():
		return "posting-internal"
	case p.IsLeaf():
		return "entry-leaf"
	default:
		return "entry-internal"
	}
}

var flagNames = []struct {
	f    page.Flags
	name string
}{
	{page.FlagData, "data"},
	{page.FlagLeaf, "leaf"},
	{page.FlagDeleted, "deleted"},
	{page.FlagMeta, "meta"},
	{page.FlagDeadRows, "dead-rows"},
	{page.FlagFree, "free"},
	{page.FlagHalfDead, "half-dead"},
	{page.FlagIncompleteSplit, "incomplete-split"},
}

// FlagNames lists the names of the flags set in f.
func FlagNames(f page.Flags) []string {
	out := []string{}
	for _, n := range flagNames {
		if f&n.f != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func link(id uint32) int64 {
	if id == page.InvalidID {
		return -1
	}
	return int64(id)
}

func bound(b page.Bound, data bool) string {
	switch {
	case b.Inf:
		return "+inf"
	case data:
		return b.Loc.String()
	default:
		return b.Key.String()
	}
}

func itemInfos(items []model.Item) []ItemInfo {
	out := make([]ItemInfo, len(items))
	for i, it := range items {
		out[i].Locator = it.Locator.String()
		if it.AddInfo.Valid {
			v := it.AddInfo.Value
			out[i].AddInfo = &v
		}
	}
	return out
}

func locators(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.String()
	}
	return out
}
