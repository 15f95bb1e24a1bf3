package main

import (
	"reflect"
	"testing"
)

func TestPositionalArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "no flags",
			args: []string{"Корма для кошек", "Москва", "100", "out.json"},
			want: []string{"Корма для кошек", "Москва", "100", "out.json"},
		},
		{
			name: "flags interleaved",
			args: []string{"-log-level=debug", "Toys", "-redis-addr=host:6379", "Казань", "50", "out.xlsx"},
			want: []string{"Toys", "Казань", "50", "out.xlsx"},
		},
		{
			name: "only flags",
			args: []string{"-log-level=debug", "-log-pretty"},
			want: nil,
		},
		{
			name: "empty",
			args: nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := positionalArgs(tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("positionalArgs(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}
