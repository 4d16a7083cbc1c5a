package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	for name, tc := range map[string]struct {
		in   []string
		want []string
	}{
		"nil stays nil":         {in: nil, want: nil},
		"empty stays empty":     {in: []string{}, want: []string{}},
		"blank entries dropped": {in: []string{"", "   ", "k1:9092"}, want: []string{"k1:9092"}},
		"first occurrence wins": {in: []string{"k2:9092", " k1:9092", "k2:9092 ", "k1:9092"}, want: []string{"k2:9092", "k1:9092"}},
		"case is significant":   {in: []string{"Broker", "broker"}, want: []string{"Broker", "broker"}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, DedupeAndTrim(tc.in))
		})
	}
}
