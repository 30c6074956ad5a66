package multicall

import (
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// logCall records one call attempt on the configured sink, before any
// network activity happens, so even calls that never reach the wire
// leave a trace. Failures anywhere in this path are swallowed: the
// sink must never affect the real call.
func (ep *Endpoint) logCall(method string, args []interface{}, kwargs map[string]interface{}) {
	if ep.sink == nil {
		return
	}

	record, err := callRecord(ep, method, args, kwargs)
	if err != nil {
		ep.logger.Debug(
			"call sink: unrepresentable call",
			LabelMethod.L(method),
			LabelError.L(err),
		)
		return
	}

	ep.sinkLk.Lock()
	defer ep.sinkLk.Unlock()
	if _, err := ep.sink.Write(record); err != nil {
		ep.logger.Debug("call sink: write failed", LabelError.L(err))
	}
}

// callRecord serializes one attempt as a JSON line. Arguments which
// have no JSON representation make the whole record fail, they do not
// get dropped silently one by one.
func callRecord(ep *Endpoint, method string, args []interface{}, kwargs map[string]interface{}) ([]byte, error) {
	fields := map[string]interface{}{
		"time":     time.Now().UTC().Format(time.RFC3339Nano),
		"endpoint": ep.name,
		"protocol": ep.proto.Name(),
		"addr":     ep.Addr(),
		"method":   method,
	}
	if len(args) > 0 {
		fields["args"] = args
	}
	if len(kwargs) > 0 {
		fields["kwargs"] = kwargs
	}

	record, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}

	buf, err := protojson.Marshal(record)
	if err != nil {
		return nil, err
	}

	return append(buf, '\n'), nil
}
