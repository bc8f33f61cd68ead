package checklist_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlovans/taxflow/internal/flowtest"
	"github.com/dlovans/taxflow/pkg/checklist"
)

func build(t *testing.T, f *flowtest.Facts, opts checklist.Options) []checklist.Category {
	t.Helper()
	got, err := checklist.Build(flowtest.Graph(t), flowtest.Evaluator(), f.Snapshot(), opts)
	require.NoError(t, err)
	return got
}

func aboutYouDone(t *testing.T) *flowtest.Facts {
	return flowtest.NewFacts(t).
		Set("/filingStatus", "single").
		Set("/livesAbroad", false).
		Set("/primaryFilerTin", "123456789")
}

func TestBuildEmptyReturn(t *testing.T) {
	got := build(t, flowtest.NewFacts(t), checklist.Options{})

	want := []checklist.Category{
		{
			Route:  "/flow/you-and-your-family",
			Active: true,
			Subcategories: []checklist.Subcategory{
				{Route: flowtest.SubcategoryAboutYou, IsNext: true, NavigationRoute: flowtest.RouteAboutYouIntro},
			},
		},
		{
			Route:         "/flow/income",
			Subcategories: []checklist.Subcategory{{Route: flowtest.SubcategoryJobs}},
		},
		{
			// refund waits for a filing status and sign for the blocking facts
			Route:         "/flow/complete",
			Subcategories: []checklist.Subcategory{},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("checklist mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildCompletedReturn(t *testing.T) {
	f := aboutYouDone(t).
		Set("/hasW2s", true).
		AddW2(flowtest.W2A, true).
		Set("/wantsDirectDeposit", false).
		Set("/hasForeignAccounts", false)

	got := build(t, f, checklist.Options{})
	require.Len(t, got, 3)

	want := []checklist.Subcategory{
		{Route: flowtest.SubcategoryAboutYou, IsComplete: true,
			NavigationRoute: "/data-view" + flowtest.SubcategoryAboutYou},
		{Route: flowtest.SubcategoryJobs, IsComplete: true,
			NavigationRoute: flowtest.RouteW2Summary + "?reviewMode=true"},
		{Route: flowtest.SubcategoryRefund, IsComplete: true,
			NavigationRoute: "/data-view" + flowtest.SubcategoryRefund},
		{Route: flowtest.SubcategorySign, IsNext: true, NavigationRoute: flowtest.RouteSign},
	}
	var subs []checklist.Subcategory
	for _, c := range got {
		assert.True(t, c.Active, c.Route)
		subs = append(subs, c.Subcategories...)
	}
	if diff := cmp.Diff(want, subs); diff != "" {
		t.Errorf("subcategories mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildLocksFutureSectionsOnIncompleteItem(t *testing.T) {
	f := aboutYouDone(t).
		Set("/hasW2s", true).
		AddW2(flowtest.W2A, true).
		AddW2(flowtest.W2B, false).
		Set("/formW2s/*/writableWages", 1000, flowtest.W2B)

	got := build(t, f, checklist.Options{})
	require.Len(t, got, 3)

	jobs := got[1].Subcategories[0]
	assert.Equal(t, checklist.Subcategory{
		Route:             flowtest.SubcategoryJobs,
		IsNext:            true,
		IsStarted:         true,
		HasIncompleteItem: true,
		NavigationRoute:   flowtest.RouteW2Summary + "?reviewMode=true",
	}, jobs)

	refund := got[2]
	assert.False(t, refund.Active)
	require.Len(t, refund.Subcategories, 1)
	assert.Equal(t, checklist.Subcategory{Route: flowtest.SubcategoryRefund}, refund.Subcategories[0])
}

func TestBuildStartedSubcategoryLinksToDataView(t *testing.T) {
	f := flowtest.NewFacts(t).Set("/filingStatus", "single")

	got := build(t, f, checklist.Options{})
	aboutYou := got[0].Subcategories[0]
	assert.True(t, aboutYou.IsNext)
	assert.True(t, aboutYou.IsStarted)
	assert.Equal(t, "/data-view"+flowtest.SubcategoryAboutYou, aboutYou.NavigationRoute)
}

func TestBuildExcludedCategories(t *testing.T) {
	got := build(t, flowtest.NewFacts(t), checklist.Options{ExcludedCategories: []string{}})
	require.Len(t, got, 4)
	assert.Equal(t, checklist.KnockoutCategory, got[3].Route)

	got = build(t, flowtest.NewFacts(t), checklist.Options{ExcludedCategories: []string{"/flow/income"}})
	var routes []string
	for _, c := range got {
		routes = append(routes, c.Route)
	}
	assert.Equal(t, []string{"/flow/you-and-your-family", "/flow/complete", checklist.KnockoutCategory}, routes)
}
