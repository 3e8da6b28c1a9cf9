package workflow

import "time"

// ApplyTimedWakes scans states for tasks whose wall-clock wake condition has
// elapsed at now: a ResultRetry delay, a ResultWaiting poll delay, or a
// per-task timeout (spec §4.3, "Timeouts ... measured from the first waiting
// entry, never reset by subsequent polls"; spec §4.1 rule on auto-complete).
// It mutates states in place and reports whether anything changed, so the
// executor knows whether to re-run readiness/dispatch for the instance.
// timedOut carries the ids of tasks whose timeout_minutes deadline elapsed
// this pass (whether resolved by auto-complete or by failing), so callers
// can surface an observability event for each.
func ApplyTimedWakes(d *DAG, states map[string]*TaskState, now time.Time) (woke bool, timedOut []string) {
	for id, st := range states {
		cfg, ok := d.Tasks[id]
		if !ok {
			continue
		}

		switch st.Status {
		case TaskRetry:
			if st.NextEligible != nil && !now.Before(*st.NextEligible) {
				st.Status = TaskReady
				st.NextEligible = nil
				woke = true
			}

		case TaskWaiting:
			if cfg.TimeoutMinutes > 0 && st.WaitingSince != nil {
				deadline := st.WaitingSince.Add(time.Duration(cfg.TimeoutMinutes) * time.Minute)
				if !now.Before(deadline) {
					if cfg.AutoCompleteOnTimeout {
						st.Status = TaskCompleted
						if st.Output == nil {
							st.Output = map[string]any{}
						}
						completedAt := now
						st.CompletedAt = &completedAt
					} else {
						st.Status = TaskFailed
						st.ErrorMessage = "timeout: task exceeded timeout_minutes while waiting"
					}
					st.NextEligible = nil
					woke = true
					timedOut = append(timedOut, id)
					continue
				}
			}
			if st.NextEligible != nil && !now.Before(*st.NextEligible) {
				st.Status = TaskReady
				st.WaitingFor = ""
				st.NextEligible = nil
				woke = true
			}
		}
	}

	return woke, timedOut
}
