package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/crewline/crewline/internal/pipeline"
	"github.com/crewline/crewline/internal/worker"
)

// workersFile is the YAML shape of a worker definition file.
type workersFile struct {
	Workers []worker.Spec `yaml:"workers"`
}

// tasksFile is the YAML shape of a task definition file.
type tasksFile struct {
	Tasks []pipeline.TaskSpec `yaml:"tasks"`
}

// LoadWorkers reads a workers.yaml file into a populated registry.
func LoadWorkers(path string, logger *zap.Logger) (*worker.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workers file %s: %w", path, err)
	}

	var wf workersFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workers file %s: %w", path, err)
	}

	reg := worker.NewRegistry(logger)
	for _, s := range wf.Workers {
		if err := reg.Register(s); err != nil {
			return nil, fmt.Errorf("workers file %s: %w", path, err)
		}
	}
	return reg, nil
}

// LoadTasks reads a tasks.yaml file into the declared-order task list.
func LoadTasks(path string) ([]pipeline.TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file %s: %w", path, err)
	}

	var tf tasksFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tasks file %s: %w", path, err)
	}
	return tf.Tasks, nil
}

// LoadPipeline assembles and validates a pipeline from the definition files
// named by the pipeline config. Validation failures surface here, before any
// execution.
func LoadPipeline(cfg PipelineConfig, logger *zap.Logger) (*pipeline.Pipeline, error) {
	workers, err := LoadWorkers(cfg.WorkersFile, logger)
	if err != nil {
		return nil, err
	}
	tasks, err := LoadTasks(cfg.TasksFile)
	if err != nil {
		return nil, err
	}
	return pipeline.New(cfg.ID, workers, tasks)
}
