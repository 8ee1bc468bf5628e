package pipeline

import (
	"strings"
	"testing"

	"github.com/msageha/conveyor/checkpoint"
	"github.com/msageha/conveyor/supervisor"
)

func TestValidate_RejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name   string
		stages []Stage
		want   string
	}{
		{
			name:   "no stages",
			stages: nil,
			want:   "no stages",
		},
		{
			name:   "nameless stage",
			stages: []Stage{{Steps: []Step{{Name: "a", Func: nop}}}},
			want:   "nameless stage",
		},
		{
			name: "nameless step",
			stages: []Stage{{Name: "alpha", Steps: []Step{
				{Func: nop},
			}}},
			want: "nameless step",
		},
		{
			name: "duplicate step keys",
			stages: []Stage{{Name: "alpha", Steps: []Step{
				{Name: "Align Reads", Func: nop},
				{Name: "align_reads", Func: nop},
			}}},
			want: "collides",
		},
		{
			name: "stage and step keys collide",
			stages: []Stage{{Name: "trim", Steps: []Step{
				{Name: "Trim", Func: nop},
			}}},
			want: "collides",
		},
		{
			name: "empty step",
			stages: []Stage{{Name: "alpha", Steps: []Step{
				{Name: "noop"},
			}}},
			want: "does nothing",
		},
		{
			name: "empty task",
			stages: []Stage{{Name: "alpha", Steps: []Step{
				{Name: "bad", Tasks: []Task{{}}},
			}}},
			want: "empty",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := validate("wordseq", c.stages)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Errorf("error %q does not mention %q", err, c.want)
			}
		})
	}
}

func TestValidate_AcceptsTargetsOnlyStep(t *testing.T) {
	stages := []Stage{{Name: "alpha", Steps: []Step{
		{Name: "wait-for-input", Targets: []string{"input.txt"}},
	}}}
	if err := validate("wordseq", stages); err != nil {
		t.Fatalf("targets-only step rejected: %v", err)
	}
}

func TestOrderedKeys_IncludesStageBoundaries(t *testing.T) {
	stages := []Stage{
		{Name: "alpha", Checkpoint: true, Steps: []Step{
			{Name: "one", Func: nop},
			{Name: "two", Func: nop},
		}},
		{Name: "bravo", Steps: []Step{
			{Name: "three", Func: nop},
		}},
	}
	keys := orderedKeys("wordseq", stages)
	want := []checkpoint.Key{
		checkpoint.NewKey("wordseq", "one"),
		checkpoint.NewKey("wordseq", "two"),
		checkpoint.NewKey("wordseq", "alpha"),
		checkpoint.NewKey("wordseq", "three"),
	}
	if len(keys) != len(want) {
		t.Fatalf("key count: got %d, want %d (%v)", len(keys), len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestTaskHelpers(t *testing.T) {
	single := Cmd(supervisor.Exec("echo", "hi"))
	if len(single) != 1 {
		t.Fatalf("Cmd length: got %d", len(single))
	}
	chain := Pipe(supervisor.Exec("cat", "in"), supervisor.Exec("sort"))
	if len(chain) != 2 {
		t.Fatalf("Pipe length: got %d", len(chain))
	}
}
