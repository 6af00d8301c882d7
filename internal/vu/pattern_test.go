package vu

import (
	"testing"
	"time"
)

func TestParsePatternRoundTrip(t *testing.T) {
	cases := []string{
		"constant:50:120",
		"ramp:1:200:60",
		"spike:20:500:30",
		"spike:20:500:30:60",
	}

	for _, s := range cases {
		p, err := ParsePattern(s)
		if err != nil {
			t.Fatalf("ParsePattern(%q): %v", s, err)
		}
		if got := p.Render(); got != s {
			t.Fatalf("Render(Parse(%q)) = %q, want %q", s, got, s)
		}
	}
}

func TestParsePatternMalformed(t *testing.T) {
	cases := []string{
		"",
		"constant:50",
		"ramp:1:200",
		"spike:1:2",
		"bogus:1:2:3",
		"constant:abc:120",
	}
	for _, s := range cases {
		if _, err := ParsePattern(s); err == nil {
			t.Fatalf("ParsePattern(%q): expected error, got nil", s)
		}
	}
}

func TestConstantPatternPlan(t *testing.T) {
	p, err := ParsePattern("constant:50:120")
	if err != nil {
		t.Fatal(err)
	}
	plan := p.Plan()
	if len(plan.Stages) != 1 {
		t.Fatalf("expected 1 stage, got %d", len(plan.Stages))
	}
	s := plan.Stages[0]
	if s.TargetVUs != 50 || s.RampFromVUs != 0 || s.Churn != nil {
		t.Fatalf("unexpected constant stage: %+v", s)
	}
}

func TestRampPatternPlan(t *testing.T) {
	p, err := ParsePattern("ramp:1:200:60")
	if err != nil {
		t.Fatal(err)
	}
	plan := p.Plan()
	if len(plan.Stages) != 1 {
		t.Fatalf("expected 1 stage, got %d", len(plan.Stages))
	}
	s := plan.Stages[0]
	if s.TargetVUs != 200 || s.RampFromVUs != 1 {
		t.Fatalf("unexpected ramp stage: %+v", s)
	}
}

func TestSpikePatternPlanWithNormalBookends(t *testing.T) {
	p, err := ParsePattern("spike:20:500:30:60")
	if err != nil {
		t.Fatal(err)
	}
	plan := p.Plan()
	if len(plan.Stages) != 3 {
		t.Fatalf("expected 3 stages (normal, spike, normal), got %d", len(plan.Stages))
	}
	if plan.Stages[0].TargetVUs != 20 || plan.Stages[2].TargetVUs != 20 {
		t.Fatalf("expected normal bookends at 20 VUs, got %+v / %+v", plan.Stages[0], plan.Stages[2])
	}
	if plan.Stages[1].TargetVUs != 500 || plan.Stages[1].Churn == nil {
		t.Fatalf("expected churning spike stage at 500 VUs, got %+v", plan.Stages[1])
	}
}

func TestSpikePatternPlanWithoutNormalBookends(t *testing.T) {
	p, err := ParsePattern("spike:20:500:30")
	if err != nil {
		t.Fatal(err)
	}
	plan := p.Plan()
	if len(plan.Stages) != 1 {
		t.Fatalf("expected 1 stage without normal seconds, got %d", len(plan.Stages))
	}
}

func TestPlanFromUsersDurationWithRamp(t *testing.T) {
	plan := PlanFromUsersDuration(100, 60*time.Second, 10*time.Second)
	if len(plan.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(plan.Stages))
	}
	if plan.Stages[0].RampFromVUs != 1 || plan.Stages[0].TargetVUs != 100 {
		t.Fatalf("unexpected ramp stage: %+v", plan.Stages[0])
	}
	if plan.Stages[1].RampFromVUs != 0 || plan.Stages[1].TargetVUs != 100 {
		t.Fatalf("unexpected hold stage: %+v", plan.Stages[1])
	}
}

func TestPlanFromUsersDurationWithoutRamp(t *testing.T) {
	plan := PlanFromUsersDuration(100, 60*time.Second, 0)
	if len(plan.Stages) != 1 {
		t.Fatalf("expected 1 stage with no ramp, got %d", len(plan.Stages))
	}
}
