package capacity

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// SKILL MATCHER - Ranks engineers against a required skill set
// =============================================================================

// maxCapacityLookups bounds concurrent capacity queries during ranking.
const maxCapacityLookups = 8

// Matcher scores engineers by skill coverage and free capacity.
type Matcher struct {
	Store      generic.Store
	Accountant *Accountant
}

func NewMatcher(store generic.Store) *Matcher {
	return &Matcher{Store: store, Accountant: NewAccountant(store)}
}

// FindMatchingEngineers ranks every engineer with at least minCapacity
// free over today..FarFuture.
//
// Score = matching / required * 100, rounded to nearest, and 100 when required
// is empty. Results are sorted by score, then available capacity, both
// descending, with name as the final tiebreaker.
func (m *Matcher) FindMatchingEngineers(ctx context.Context, requiredSkills []string, minCapacity int) ([]generic.EngineerMatch, error) {
	engineers, err := m.Store.ListUsers(ctx, generic.UserFilter{Role: generic.RoleEngineer})
	if err != nil {
		return nil, fmt.Errorf("list engineers: %w", err)
	}

	available := make([]int, len(engineers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCapacityLookups)
	for i, eng := range engineers {
		g.Go(func() error {
			free, err := m.Accountant.AvailableCapacity(gctx, eng.ID, CapacityQuery{})
			if err != nil {
				return err
			}
			available[i] = free
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := []generic.EngineerMatch{}
	for i, eng := range engineers {
		if available[i] < minCapacity {
			continue
		}
		matching, missing := eng.Skills.Match(requiredSkills)
		matches = append(matches, generic.EngineerMatch{
			Engineer:          eng,
			MatchingSkills:    matching,
			MissingSkills:     missing,
			AvailableCapacity: available[i],
			MatchScore:        MatchScore(len(matching), len(matching)+len(missing)),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		if a.AvailableCapacity != b.AvailableCapacity {
			return a.AvailableCapacity > b.AvailableCapacity
		}
		return a.Engineer.Name < b.Engineer.Name
	})
	return matches, nil
}

// SuggestForProject ranks engineers against a project's required skills.
func (m *Matcher) SuggestForProject(ctx context.Context, projectID generic.ProjectID, minCapacity int) ([]generic.EngineerMatch, error) {
	project, err := m.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	if project == nil {
		return nil, &generic.NotFoundError{Reason: generic.ReasonProjectNotFound, Kind: "project", ID: string(projectID)}
	}
	return m.FindMatchingEngineers(ctx, project.RequiredSkills, minCapacity)
}

// FilterEngineersBySkills lists engineers having any skill that contains
// one of the queries, ignoring case. No queries lists every engineer.
func (m *Matcher) FilterEngineersBySkills(ctx context.Context, skills []string) ([]generic.User, error) {
	engineers, err := m.Store.ListUsers(ctx, generic.UserFilter{Role: generic.RoleEngineer})
	if err != nil {
		return nil, fmt.Errorf("list engineers: %w", err)
	}
	if len(generic.NewSkillSet(skills...).Names()) == 0 {
		return engineers, nil
	}

	result := []generic.User{}
	for _, eng := range engineers {
		if eng.Skills.HasAnyLike(skills...) {
			result = append(result, eng)
		}
	}
	return result, nil
}

// MatchScore returns matching/required as a percentage, 100 when nothing is required.
func MatchScore(matching, required int) int {
	if required == 0 {
		return 100
	}
	return (matching*100 + required/2) / required
}
