package command

// Subsystem tags.
const (
	SubsystemDaemon = "DAE"
	SubsystemUCI    = "UCI"
	SubsystemSys    = "SYS"
)

// Daemon opcodes.
const (
	DaemonNone     uint16 = 0
	DaemonPing     uint16 = 1
	DaemonShutdown uint16 = 2
)

// Config store opcodes.
const (
	UCINone   uint16 = 0
	UCISet    uint16 = 1
	UCIGet    uint16 = 2
	UCICommit uint16 = 3
	UCIRevert uint16 = 4
)

// System opcodes.
const (
	SysNone  uint16 = 0
	SysInitd uint16 = 1
)

// StatusOK is the response id for success in every subsystem.
const StatusOK uint16 = 0
