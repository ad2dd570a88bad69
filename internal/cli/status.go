package cli

import (
	"sort"

	"github.com/spf13/cobra"
)

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the loaded topology and worker assignment",
		Long: `Summarize the topology currently loaded: every chunked database and
its table count, the worker fleet, and how many chunks each worker owns.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus()
		},
	}
}

// DatabaseStatus summarizes one database's table count for status output.
type DatabaseStatus struct {
	Name       string `json:"name"`
	TableCount int    `json:"tableCount"`
}

// WorkerStatus summarizes one worker's chunk assignment for status output.
type WorkerStatus struct {
	ID         string `json:"id"`
	Endpoint   string `json:"endpoint"`
	ChunkCount int    `json:"chunkCount"`
}

func (c *CLI) runStatus() error {
	if c.topology == nil {
		if c.jsonOutput {
			return c.outputJSON(map[string]interface{}{"configured": false})
		}
		c.println("No topology configured.")
		c.println("Pass --topology or set auth.topology in the master config.")
		return nil
	}

	var dbs []DatabaseStatus
	for name, db := range c.topology.Databases {
		dbs = append(dbs, DatabaseStatus{Name: name, TableCount: len(db.Tables)})
	}
	sort.Slice(dbs, func(i, j int) bool { return dbs[i].Name < dbs[j].Name })

	chunkCounts := make(map[string]int, len(c.topology.Workers))
	for _, workerID := range c.topology.Assignment {
		chunkCounts[workerID]++
	}
	var workers []WorkerStatus
	for id, endpoint := range c.topology.Workers {
		workers = append(workers, WorkerStatus{ID: id, Endpoint: endpoint, ChunkCount: chunkCounts[id]})
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"configured": true,
			"databases":  dbs,
			"workers":    workers,
		})
	}

	c.println("Databases:")
	for _, db := range dbs {
		c.printf("  %-20s %d table(s)\n", db.Name, db.TableCount)
	}

	c.println("")
	c.println("Workers:")
	for _, w := range workers {
		c.printf("  %-10s %-20s %d chunk(s)\n", w.ID, w.Endpoint, w.ChunkCount)
	}

	c.println("")
	c.printf("Total assignments: %d\n", len(c.topology.Assignment))

	return nil
}
