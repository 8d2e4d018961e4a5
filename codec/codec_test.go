package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type child struct {
	Key   string `json:"key"`
	Items int    `json:"items"`
}

type payload struct {
	ID       uint32   `json:"id"`
	Kind     string   `json:"kind"`
	Flags    []string `json:"flags"`
	Free     int      `json:"free"`
	Children []child  `json:"children"`
}

func testPayload() payload {
	return payload{
		ID:    7,
		Kind:  "entry-leaf",
		Flags: []string{"leaf", "incomplete-split"},
		Free:  312,
		Children: []child{
			{Key: "0/\"a\"", Items: 3},
			{Key: "0/\"b\"", Items: 1},
		},
	}
}

func TestCodecsAgree(t *testing.T) {
	for _, c := range []Codec{JSON{}, GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(testPayload())
			require.NoError(t, err)

			var got payload
			require.NoError(t, c.Unmarshal(data, &got))
			assert.Equal(t, testPayload(), got)

			// both codecs read each other's output
			var other payload
			require.NoError(t, JSON{}.Unmarshal(data, &other))
			assert.Equal(t, testPayload(), other)

			ind, ok := c.(Indenter)
			require.True(t, ok)
			pretty, err := ind.MarshalIndent(testPayload())
			require.NoError(t, err)
			assert.Contains(t, string(pretty), "\n  \"kind\": \"entry-leaf\"")
		})
	}
}

func TestByName(t *testing.T) {
	c, ok := ByName("go-json")
	require.True(t, ok)
	assert.Equal(t, GoJSON{}, c)

	c, ok = ByName("json")
	require.True(t, ok)
	assert.Equal(t, JSON{}, c)

	_, ok = ByName("msgpack")
	assert.False(t, ok)
	assert.Equal(t, "go-json", Default.Name())
}

func BenchmarkMarshal(b *testing.B) {
	v := testPayload()
	for _, c := range []Codec{JSON{}, GoJSON{}} {
		b.Run(c.Name(), func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				if _, err := c.Marshal(v); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
