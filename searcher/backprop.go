package searcher

// forceFinalise checks whether a node's value is now proven: either some
// finalised child wins outright for the lead role, or every child is
// expanded and finalised (take the best). Returns nil when the node
// cannot be finalised yet.
func forceFinalise(node *Node) *Child {
	bestScore := float32(-1)
	var best *Child
	allFinalised := true

	for i := range node.Children {
		c := node.Child(i)

		if c.ToNode != nil && c.ToNode.IsFinalised {
			score := c.ToNode.CurrentScore(node.leadScoreRole())

			// opportunist case
			if score > 0.99 {
				return c
			}

			if score > bestScore {
				bestScore = score
				best = c
			}

		} else {
			// not finalised, so more to explore unless a later child wins
			allFinalised = false
		}
	}

	if !allFinalised {
		return nil
	}

	return best
}

// backUpMiniMax mixes the best child's score into the propagated scores
// when the selection chose a non-best child on a young node. Once every
// child is expanded the ratio decays linearly to zero as visits approach
// the threshold.
func (e *Evaluator) backUpMiniMax(newScores []float32, cur *pathElement) {
	if cur.node.LeadRoleIndex == LeadRoleIndexSimultaneous {
		return
	}

	if cur.best == nil || cur.best.ToNode == nil || e.conf.MinimaxBackupRatio <= 0 {
		return
	}

	if cur.choice == cur.best {
		return
	}

	if cur.node.Visits == 0 || cur.node.Visits > uint32(e.conf.MinimaxThresholdVisits) {
		return
	}

	best := cur.best.ToNode
	ratio := float64(e.conf.MinimaxBackupRatio)

	if cur.numChildrenExpanded == cur.node.NumChildren() {
		ratio -= ratio * (float64(cur.node.Visits) / float64(e.conf.MinimaxThresholdVisits))

		if ratio < 0 {
			ratio = 0
		} else if ratio > 1 {
			ratio = 1
		}
	}

	for ri := range newScores {
		newScores[ri] = float32(ratio*float64(best.CurrentScore(ri)) +
			(1.0-ratio)*float64(newScores[ri]))
	}
}

// backPropagate walks the path leaf to root, updating running means and
// visit counts. Finalised scores overwrite the propagated vector so they
// flow upward unchanged. Forced finalisation runs at most once per
// back-propagation, so proof cascades spread over successive playouts.
func (e *Evaluator) backPropagate(newScores []float32, path []pathElement) {
	roleCount := e.sm.RoleCount()

	onlyOnce := true

	for index := len(path) - 1; index >= 0; index-- {
		cur := &path[index]

		if cur.node == nil {
			panic("nil node on back-propagation path")
		}

		if onlyOnce && !cur.node.IsFinalised &&
			cur.node.LeadRoleIndex != LeadRoleIndexSimultaneous {
			onlyOnce = false

			if finalisedChild := forceFinalise(cur.node); finalisedChild != nil {
				for ri := 0; ri < roleCount; ri++ {
					cur.node.SetCurrentScore(ri, finalisedChild.ToNode.CurrentScore(ri))
				}

				cur.node.IsFinalised = true
			}
		}

		if cur.node.IsFinalised {
			// Finalised scores take precedence over whatever this path
			// was exploring. Also matters for transpositions.
			for ri := 0; ri < roleCount; ri++ {
				newScores[ri] = cur.node.CurrentScore(ri)
			}

		} else {
			if e.conf.batched() {
				e.backUpMiniMax(newScores, cur)
			}

			visits := float64(cur.node.Visits)
			for ri := 0; ri < roleCount; ri++ {
				score := float32((visits*float64(cur.node.CurrentScore(ri)) +
					float64(newScores[ri])) / (visits + 1.0))

				cur.node.SetCurrentScore(ri, score)
			}
		}

		cur.node.Visits++

		if cur.node.InflightVisits > 0 {
			cur.node.InflightVisits--
		}

		if cur.choice != nil {
			cur.choice.Traversals++
		}
	}
}
