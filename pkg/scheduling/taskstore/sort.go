package taskstore

import (
	"sort"

	"github.com/kart-io/sentinel-agent/pkg/scheduling"
)

// sortTasks orders tasks by due time, then id.
func sortTasks(tasks []scheduling.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].Due.Equal(tasks[j].Due) {
			return tasks[i].Due.Before(tasks[j].Due)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
