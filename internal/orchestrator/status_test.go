package orchestrator

import "testing"

func TestStatus_CanTransitionTo_HappyPath(t *testing.T) {
	path := []Status{
		StatusQueued, StatusInitializing, StatusAwaitingStart, StatusRunning,
		StatusSpawnChildren, StatusAwaitingChildren, StatusCompleting, StatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		from, to := path[i], path[i+1]
		if !from.CanTransitionTo(to) {
			t.Fatalf("expected %s -> %s to be legal", from, to)
		}
	}
}

func TestStatus_AwaitingStart_FailsDirectlyWithNoIntermediateFailing(t *testing.T) {
	if !StatusAwaitingStart.CanTransitionTo(StatusFailed) {
		t.Fatal("awaiting-start must be able to fail directly on start-timeout")
	}
	if StatusAwaitingStart.CanTransitionTo(StatusFailing) {
		t.Fatal("awaiting-start must not route through failing")
	}
}

func TestStatus_AnyNonTerminalStatus_CanStop(t *testing.T) {
	nonTerminal := []Status{
		StatusQueued, StatusInitializing, StatusAwaitingStart, StatusRunning,
		StatusSpawnChildren, StatusAwaitingChildren, StatusCompleting, StatusFailing,
	}
	for _, s := range nonTerminal {
		if !s.CanTransitionTo(StatusStopping) {
			t.Fatalf("expected %s -> stopping to be legal (parent-terminal child abort)", s)
		}
	}
}

func TestStatus_TerminalStatuses_CannotStop(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusStopped, StatusFailed} {
		if s.CanTransitionTo(StatusStopping) {
			t.Fatalf("terminal status %s must not transition to stopping", s)
		}
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted: true, StatusStopped: true, StatusFailed: true,
		StatusQueued: false, StatusRunning: false, StatusFailing: false,
	}
	for s, want := range terminal {
		if got := s.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, want)
		}
	}
}

func TestStatus_RunningFailsThroughFailingOnly(t *testing.T) {
	if StatusRunning.CanTransitionTo(StatusFailed) {
		t.Fatal("running must route failures through failing, not jump directly to failed")
	}
	if !StatusRunning.CanTransitionTo(StatusFailing) {
		t.Fatal("running -> failing must be legal")
	}
	if !StatusFailing.CanTransitionTo(StatusFailed) {
		t.Fatal("failing -> failed must be legal")
	}
}

func TestStatus_RunningSkipsDirectlyToCompletingWithNoChildren(t *testing.T) {
	if !StatusRunning.CanTransitionTo(StatusCompleting) {
		t.Fatal("running -> completing must be legal for the zero-child-task case")
	}
}

func TestStatus_NoUnexpectedEdges(t *testing.T) {
	if StatusCompleted.CanTransitionTo(StatusRunning) {
		t.Fatal("completed must not transition anywhere")
	}
	if StatusQueued.CanTransitionTo(StatusCompleted) {
		t.Fatal("queued must not skip straight to completed")
	}
}
