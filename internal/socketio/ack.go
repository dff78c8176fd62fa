package socketio

import (
	"reflect"
)

// ackInvoker answers a client acknowledgement with a single payload.
type ackInvoker func(payload map[string]any)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// extractAck splits the trailing acknowledgement callback, if any, from the
// event arguments.
func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

// wrapAck adapts whatever callback shape the Socket.IO library hands over
// (func(...any), func([]any, error), ...) to an ackInvoker.
func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(payload map[string]any) {
		if typ.IsVariadic() && typ.NumIn() == 1 {
			value.Call([]reflect.Value{reflect.ValueOf(payload)})
			return
		}
		value.Call(buildAckArgs(typ, payload))
	}
}

func buildAckArgs(typ reflect.Type, payload map[string]any) []reflect.Value {
	args := make([]reflect.Value, typ.NumIn())
	placed := false

	for i := range args {
		paramType := typ.In(i)
		switch {
		case paramType == errorType:
			args[i] = reflect.Zero(paramType)
		case placed:
			args[i] = reflect.Zero(paramType)
		case paramType.Kind() == reflect.Slice && paramType.Elem().Kind() == reflect.Interface:
			args[i] = reflect.ValueOf([]any{payload}).Convert(paramType)
			placed = true
		case reflect.TypeOf(payload).AssignableTo(paramType):
			args[i] = reflect.ValueOf(payload)
			placed = true
		default:
			args[i] = reflect.Zero(paramType)
		}
	}
	return args
}

func firstObject(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	payload, _ := args[0].(map[string]any)
	return payload
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}
