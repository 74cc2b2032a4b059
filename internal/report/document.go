package report

type (
	// Document is the assembled report consumed by downstream renderers.
	// All nested structures reference the side tables by integer index;
	// every index must resolve within its table. The synthetic call graph
	// root uses function id -1 and is the only index exempt from that
	// rule.
	Document struct {
		RecordTime   string                    `json:"recordTime"`
		TotalSamples uint64                    `json:"totalSamples"`
		SampleInfo   []*Event                  `json:"sampleInfo"`
		ThreadNames  map[string]string         `json:"threadNames"`
		LibList      []string                  `json:"libList"`
		FunctionMap  map[string]*FunctionEntry `json:"functionMap"`
		SourceFiles  []*SourceFileEntry        `json:"sourceFiles"`
	}

	// Event is one named sample stream.
	Event struct {
		EventName   string     `json:"eventName"`
		EventCount  uint64     `json:"eventCount"`
		SampleCount uint64     `json:"sampleCount"`
		Processes   []*Process `json:"processes"`
	}

	Process struct {
		Pid         int       `json:"pid"`
		EventCount  uint64    `json:"eventCount"`
		SampleCount uint64    `json:"sampleCount"`
		Threads     []*Thread `json:"threads"`
	}

	Thread struct {
		Tid         int        `json:"tid"`
		EventCount  uint64     `json:"eventCount"`
		SampleCount uint64     `json:"sampleCount"`
		Libs        []*Library `json:"libs"`
		CallGraph   *CallNode  `json:"g"`
	}

	// Library groups the functions of one library hit by a thread.
	Library struct {
		LibID     int              `json:"libId"`
		Functions []*FunctionUsage `json:"functions"`
	}

	// FunctionUsage carries one thread's counts for one function,
	// optionally annotated with source lines and address hits.
	FunctionUsage struct {
		FuncID            int              `json:"f"`
		EventCount        uint64           `json:"e"`
		SubtreeEventCount uint64           `json:"st"`
		SourceCode        []SourceCodeItem `json:"s,omitempty"`
		Addrs             []AddrItem       `json:"a,omitempty"`
	}

	SourceCodeItem struct {
		FileID            int    `json:"f"`
		Line              int    `json:"l"`
		EventCount        uint64 `json:"e"`
		SubtreeEventCount uint64 `json:"s"`
	}

	AddrItem struct {
		Addr              uint64 `json:"a"`
		EventCount        uint64 `json:"e"`
		SubtreeEventCount uint64 `json:"s"`
	}

	CallNode struct {
		FuncID            int         `json:"f"`
		EventCount        uint64      `json:"e"`
		SubtreeEventCount uint64      `json:"s"`
		Children          []*CallNode `json:"c"`
	}

	// FunctionEntry is one function table entry. The name is the display
	// name, deobfuscated when a mapping entry exists.
	FunctionEntry struct {
		LibID       int               `json:"l"`
		Name        string            `json:"f"`
		Disassembly []DisassemblyLine `json:"d,omitempty"`
	}

	DisassemblyLine struct {
		Text string `json:"t"`
		Addr uint64 `json:"a"`
	}

	SourceFileEntry struct {
		Path string         `json:"path"`
		Code map[int]string `json:"code"`
	}
)
