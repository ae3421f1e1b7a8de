package runner

// VisibilityTracker holds the bookkeeping needed to validate export
// visibility and dependency-access policies after registration
// (spec.md §3 "VisibilityTracker state", §4.2).
type VisibilityTracker struct {
	ownership      map[Id]Id           // id -> owner resource id
	subtrees       map[Id]map[Id]bool  // resource id -> transitive descendant ids
	exportSets     map[Id]map[Id]bool  // resource id -> explicit export allowlist
	accessPolicies map[Id]AccessPolicy // resource id -> deny rules
	definitionTags map[Id]map[Id]bool  // id -> set of tag ids
	knownResources map[Id]bool
}

func newVisibilityTracker() *VisibilityTracker {
	return &VisibilityTracker{
		ownership:      map[Id]Id{},
		subtrees:       map[Id]map[Id]bool{},
		exportSets:     map[Id]map[Id]bool{},
		accessPolicies: map[Id]AccessPolicy{},
		definitionTags: map[Id]map[Id]bool{},
		knownResources: map[Id]bool{},
	}
}

func (v *VisibilityTracker) recordOwnership(id, owner Id) {
	v.ownership[id] = owner
	for o := owner; o != ""; o = v.ownership[o] {
		if v.subtrees[o] == nil {
			v.subtrees[o] = map[Id]bool{}
		}
		v.subtrees[o][id] = true
		if o == v.ownership[o] {
			break
		}
	}
}

func (v *VisibilityTracker) recordResource(id Id) { v.knownResources[id] = true }

func (v *VisibilityTracker) recordExports(ownerId Id, exports []Id) {
	set := map[Id]bool{}
	for _, e := range exports {
		set[e] = true
	}
	v.exportSets[ownerId] = set
}

func (v *VisibilityTracker) recordAccessPolicy(ownerId Id, policy AccessPolicy) {
	v.accessPolicies[ownerId] = policy
}

func (v *VisibilityTracker) recordTag(id, tagId Id) {
	if v.definitionTags[id] == nil {
		v.definitionTags[id] = map[Id]bool{}
	}
	v.definitionTags[id][tagId] = true
}

// isInSubtree reports whether id was registered inside owner's
// registration subtree (directly or transitively), or is owner itself.
func (v *VisibilityTracker) isInSubtree(owner, id Id) bool {
	if owner == id {
		return true
	}
	return v.subtrees[owner][id]
}

// getAccessViolation implements spec.md §4.2's two-stage algorithm:
// export visibility first, then dependency-access policy. Returns nil
// when access is allowed, or a *RuntimeError otherwise.
func (v *VisibilityTracker) getAccessViolation(targetId, consumerId Id) error {
	owner, tracked := v.ownership[targetId]
	if !tracked {
		// built-in / untracked target: visibility does not apply.
		return v.checkAccessPolicy(targetId, consumerId)
	}

	if err := v.checkExportVisibility(targetId, consumerId, owner); err != nil {
		return err
	}
	return v.checkAccessPolicy(targetId, consumerId)
}

func (v *VisibilityTracker) checkExportVisibility(targetId, consumerId, owner Id) error {
	visited := map[Id]bool{}
	var walk func(o Id) error
	walk = func(o Id) error {
		if visited[o] {
			return nil
		}
		visited[o] = true

		if v.isInSubtree(o, consumerId) {
			return nil // allowed: consumer lives inside this owner's subtree
		}

		exportSet, hasExports := v.exportSets[o]
		if !hasExports {
			// no export restriction declared at this level; visibility
			// is governed entirely by ancestor subtree membership, so
			// climb to the next owner.
			if parent, ok := v.ownership[o]; ok && parent != o {
				return walk(parent)
			}
			return VisibilityViolation.Throw(map[string]any{
				"target": targetId, "consumer": consumerId, "owner": o, "exportSet": []Id{},
			})
		}

		if exportSet[targetId] {
			return nil
		}
		// transitively visible through an exported child resource's subtree?
		for exportedId := range exportSet {
			if v.knownResources[exportedId] && v.isInSubtree(exportedId, targetId) {
				return nil
			}
		}

		if parent, ok := v.ownership[o]; ok && parent != o {
			if err := walk(parent); err == nil {
				return nil
			}
		}
		keys := make([]Id, 0, len(exportSet))
		for k := range exportSet {
			keys = append(keys, k)
		}
		return VisibilityViolation.Throw(map[string]any{
			"target": targetId, "consumer": consumerId, "owner": o, "exportSet": keys,
		})
	}
	return walk(owner)
}

func (v *VisibilityTracker) checkAccessPolicy(targetId, consumerId Id) error {
	tags := v.definitionTags[targetId]

	ancestor := consumerId
	visited := map[Id]bool{}
	for ancestor != "" && !visited[ancestor] {
		visited[ancestor] = true
		if policy, ok := v.accessPolicies[ancestor]; ok {
			for _, denyId := range policy.DenyIds {
				if denyId == targetId {
					return DependencyAccessPolicyViolation.Throw(map[string]any{
						"policyOwner": ancestor, "consumer": consumerId, "target": targetId, "rule": denyId,
					})
				}
			}
			for _, denyTag := range policy.DenyTags {
				if tags[denyTag] {
					return DependencyAccessPolicyViolation.Throw(map[string]any{
						"policyOwner": ancestor, "consumer": consumerId, "target": targetId, "rule": denyTag,
					})
				}
			}
		}
		next, ok := v.ownership[ancestor]
		if !ok || next == ancestor {
			break
		}
		ancestor = next
	}
	return nil
}

// validateVisibility walks every entry's computed dependencies and
// checks access; called once after finalizeRegistration (spec.md §4.2).
func (s *Store) validateVisibility() error {
	all := []map[Id]*StoreEntry{s.tasks, s.resources, s.hooks, s.taskMw, s.resourceMw}
	for _, m := range all {
		for consumerId, entry := range m {
			for _, ref := range entry.deps {
				if err := s.visibility.getAccessViolation(ref.id, consumerId); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
