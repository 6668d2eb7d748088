// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package index

import "time"

// Predicate is one node of a query tree. Predicates are built with the
// Term, And, Or and DateRange constructors and evaluated by Engine.Search.
type Predicate interface {
	// eval returns the sorted session ids matching this node against the
	// given posting snapshot.
	eval(s snapshot) ([]string, error)
}

// snapshot is a read view of the engine's indexes taken under the read lock.
type snapshot map[string]map[string][]string

type termPredicate struct {
	index string
	term  string
}

// Term matches sessions whose named index contains the given term.
// Unknown indexes and unknown terms match nothing.
func Term(index, term string) Predicate {
	return termPredicate{index: index, term: normalizeTerm(term)}
}

func (p termPredicate) eval(s snapshot) ([]string, error) {
	postings := s[p.index]
	if postings == nil {
		return nil, nil
	}
	return postings[p.term], nil
}

type andPredicate struct {
	children []Predicate
}

// And matches sessions matching every child predicate.
func And(children ...Predicate) Predicate {
	return andPredicate{children: children}
}

func (p andPredicate) eval(s snapshot) ([]string, error) {
	if len(p.children) == 0 {
		return nil, nil
	}
	result, err := p.children[0].eval(s)
	if err != nil {
		return nil, err
	}
	for _, child := range p.children[1:] {
		if len(result) == 0 {
			return nil, nil
		}
		ids, err := child.eval(s)
		if err != nil {
			return nil, err
		}
		result = intersect(result, ids)
	}
	return result, nil
}

type orPredicate struct {
	children []Predicate
}

// Or matches sessions matching at least one child predicate.
func Or(children ...Predicate) Predicate {
	return orPredicate{children: children}
}

func (p orPredicate) eval(s snapshot) ([]string, error) {
	var result []string
	for _, child := range p.children {
		ids, err := child.eval(s)
		if err != nil {
			return nil, err
		}
		result = union(result, ids)
	}
	return result, nil
}

type dateRangePredicate struct {
	from time.Time
	to   time.Time
}

// DateRange matches sessions created between from and to, inclusive.
// Resolution is one day: the date index buckets sessions by UTC calendar
// day, so sub-day bounds round outward to whole days.
func DateRange(from, to time.Time) Predicate {
	return dateRangePredicate{from: from, to: to}
}

func (p dateRangePredicate) eval(s snapshot) ([]string, error) {
	if p.to.Before(p.from) {
		return nil, ErrInvalidDateRange
	}
	postings := s[IndexDate]
	if postings == nil {
		return nil, nil
	}
	// Day buckets are "2006-01-02" strings and sort chronologically, so
	// the range check is a string comparison over present terms.
	fromDay, toDay := DayBucket(p.from), DayBucket(p.to)
	var result []string
	for day, ids := range postings {
		if day >= fromDay && day <= toDay {
			result = union(result, ids)
		}
	}
	return result, nil
}

// intersect returns the sorted intersection of two sorted id lists.
func intersect(a, b []string) []string {
	out := make([]string, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// union returns the sorted union of two sorted id lists.
func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		default:
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
