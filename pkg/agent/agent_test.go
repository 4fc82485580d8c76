package agent

import (
	"testing"

	"github.com/mesoqsim/qsim/pkg/ids"
	"github.com/mesoqsim/qsim/pkg/routing"
)

func u32(v uint32) *uint32 { return &v }

func twoTripPlan(linkReg *ids.Registry) *Plan {
	home := linkReg.Create("home-link")
	work := linkReg.Create("work-link")
	return &Plan{Elements: []Element{
		&Activity{Type: "home", Link: home, EndTime: u32(28800)},
		&Leg{Mode: "car", TravTime: 600, Route: &Route{Kind: RouteNetwork, Links: []ids.ID{home, work}}},
		&Activity{Type: "work", Link: work, EndTime: u32(61200)},
	}}
}

func TestPlanCursorParity(t *testing.T) {
	linkReg := ids.NewRegistry(ids.KindLink)
	p := twoTripPlan(linkReg)
	personReg := ids.NewRegistry(ids.KindPerson)
	l := NewPlanBasedLogic(personReg.Create("alice"), p)

	if l.State() != StateActivity {
		t.Fatalf("initial state = %v, want activity", l.State())
	}
	if got := l.CurrLinkID(); got != linkReg.Get("home-link") {
		t.Fatalf("curr link = %v, want home-link", got)
	}

	l.AdvancePlan()
	if l.State() != StateLeg {
		t.Fatalf("state after one advance = %v, want leg", l.State())
	}
	if got := l.CurrLinkID(); got != linkReg.Get("home-link") {
		t.Fatalf("leg curr link (routeIdx=0) = %v, want home-link", got)
	}
	next, ok := l.PeekNextLinkID()
	if !ok || next != linkReg.Get("work-link") {
		t.Fatalf("peek next link = %v,%v want work-link,true", next, ok)
	}
	if l.IsWantingToArriveOnCurrentLink() {
		t.Fatal("should not be wanting to arrive yet, routeIdx=0 of 2-link route")
	}

	l.NotifyEvent(EventLeftLink, 100)
	if got := l.CurrLinkID(); got != linkReg.Get("work-link") {
		t.Fatalf("after LeftLink, curr link = %v, want work-link", got)
	}
	if !l.IsWantingToArriveOnCurrentLink() {
		t.Fatal("should be wanting to arrive at the last route link")
	}

	l.AdvancePlan()
	if l.State() != StateActivity {
		t.Fatalf("state after second advance = %v, want activity", l.State())
	}
	if l.CurrAct().Type != "work" {
		t.Fatalf("curr act = %q, want work", l.CurrAct().Type)
	}
}

func TestActivityEndTimeFallbackChain(t *testing.T) {
	l := &PlanBasedLogic{plan: &Plan{Elements: []Element{
		&Activity{Type: "x", MaxDuration: u32(3600)},
	}}}
	if got := l.EndTime(1000); got != 4600 {
		t.Fatalf("end time with only max_duration = %d, want 4600", got)
	}

	l2 := &PlanBasedLogic{plan: &Plan{Elements: []Element{
		&Activity{Type: "x"},
	}}}
	if got := l2.EndTime(1000); got != infiniteEndTime {
		t.Fatalf("end time with neither end_time nor max_duration = %d, want infinite", got)
	}
}

func TestMainModeResolution(t *testing.T) {
	if _, err := MainMode(nil); err == nil {
		t.Fatal("MainMode of no legs should error")
	}
	mode, err := MainMode([]*Leg{{Mode: "walk"}})
	if err != nil || mode != "walk" {
		t.Fatalf("MainMode(walk leg) = %q,%v", mode, err)
	}
	mode, err = MainMode([]*Leg{{Mode: "walk", RoutingMode: "bike"}})
	if err != nil || mode != "bike" {
		t.Fatalf("routing-mode attribute should win, got %q,%v", mode, err)
	}
}

func TestAdaptiveWakeupBroughtForwardByHorizon(t *testing.T) {
	linkReg := ids.NewRegistry(ids.KindLink)
	p := twoTripPlan(linkReg)
	p.ActivityAt(0).PreplanningHorizon = u32(300)

	svc := routing.NewNullService()
	defer svc.Close()
	personReg := ids.NewRegistry(ids.KindPerson)
	base := NewPlanBasedLogic(personReg.Create("bob"), p)
	l := NewAdaptiveLogic(base, svc)

	if got := l.WakeupTime(0); got != 28500 {
		t.Fatalf("wakeup with horizon 300 on end_time 28800 = %d, want 28500", got)
	}
}

func TestAdaptiveSpliceRoundTrip(t *testing.T) {
	linkReg := ids.NewRegistry(ids.KindLink)
	p := twoTripPlan(linkReg)
	p.ActivityAt(0).PreplanningHorizon = u32(60)

	svc := routing.NewNullService() // replies with empty elements
	defer svc.Close()

	personReg := ids.NewRegistry(ids.KindPerson)
	base := NewPlanBasedLogic(personReg.Create("carol"), p)
	l := NewAdaptiveLogic(base, svc)

	l.NotifyEvent(EventWakeup, 28500)
	if l.pending == nil {
		t.Fatal("expected an outstanding routing request after Wakeup")
	}

	l.NotifyEvent(EventActivityFinished, 28800)
	if l.pending != nil {
		t.Fatal("pending request should be cleared after ActivityFinished splices the (empty) response")
	}
	if len(p.Elements) != 3 {
		t.Fatalf("empty response must be a no-op, got %d elements", len(p.Elements))
	}

	l.AdvancePlan()
	if l.State() != StateLeg {
		t.Fatalf("state after advance = %v, want leg", l.State())
	}
}

func TestAdaptiveSpliceWithRoutedLegs(t *testing.T) {
	linkReg := ids.NewRegistry(ids.KindLink)
	p := twoTripPlan(linkReg)
	p.ActivityAt(0).PreplanningHorizon = u32(60)

	in := make(chan routing.Request, 1)
	svc := &fakeService{in: in}
	personReg := ids.NewRegistry(ids.KindPerson)
	base := NewPlanBasedLogic(personReg.Create("dana"), p)
	l := NewAdaptiveLogic(base, svc)

	l.NotifyEvent(EventWakeup, 28500)
	req := <-in
	req.Reply <- routing.Response{
		RequestID: req.RequestID,
		Elements: []routing.Element{
			{Kind: routing.ElementLeg, Mode: "bike", TravTime: 120, RouteKind: uint8(RouteGeneric),
				StartLink: linkReg.Get("home-link"), EndLink: linkReg.Get("work-link")},
		},
	}
	l.NotifyEvent(EventActivityFinished, 28800)

	if len(p.Elements) != 3 {
		t.Fatalf("splicing one leg in place of the original placeholder leg should keep 3 elements, got %d", len(p.Elements))
	}
	spliced, ok := p.Elements[1].(*Leg)
	if !ok || spliced.Mode != "bike" {
		t.Fatalf("spliced element = %+v, want a bike leg", p.Elements[1])
	}
}

type fakeService struct{ in chan routing.Request }

func (s *fakeService) Requests() chan<- routing.Request { return s.in }
