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

// Package index maintains inverted indexes over session metadata and
// evaluates predicate trees against them.
//
// Each named index maps terms to sorted posting lists of session ids.
// Posting lists are derived data: session metadata is the source of
// truth, so a corrupt persisted index is rebuilt from metadata instead of
// surfacing an error. Queries combine And/Or/Term/DateRange predicates
// bottom-up using sorted intersections and unions.
package index
