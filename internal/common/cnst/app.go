package cnst

const (
	// AppName is the application name
	AppName = "coordinator"
	// CommandName is the root command name
	CommandName = "coordinator"
	// CoordinatorYaml is the default configuration file name
	CoordinatorYaml = "coordinator.yaml"
)
