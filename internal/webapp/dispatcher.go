package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"nuha.dev/runtracker/internal/location"
	"nuha.dev/runtracker/internal/store"
	"nuha.dev/runtracker/internal/tracker"
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errorType = reflect.TypeOf((*error)(nil)).Elem()

type Dispatcher struct {
	funcs     map[string]_function
	validator *validator.Validate
	log       log.Logger
}

type _function struct {
	reqType reflect.Type
	resType reflect.Type
	handler reflect.Value
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	d.funcs = make(map[string]_function)
	d.validator = validator.New()
	d.log = log.DefaultLogger
	d.log.Context = log.NewContext(nil).Str("module", "dispatcher").Value()
	return d
}

// Add registers f under funcname. f is either
// func(context.Context, *Res) error or func(context.Context, *Req, *Res) error.
func (disp *Dispatcher) Add(funcname string, f interface{}) {
	s := _function{}
	s.handler = reflect.ValueOf(f)
	ft := s.handler.Type()
	if ft.Kind() != reflect.Func || ft.NumIn() < 2 || ft.NumIn() > 3 || ft.In(0) != contextType ||
		ft.NumOut() != 1 || ft.Out(0) != errorType {
		panic(fmt.Sprintf("dispatcher: bad signature for %s: %s", funcname, ft))
	}
	if ft.NumIn() == 2 {
		s.reqType = nil
		s.resType = ft.In(1).Elem()
	} else {
		s.reqType = ft.In(1).Elem()
		s.resType = ft.In(2).Elem()
	}
	disp.funcs[funcname] = s
}

func (disp *Dispatcher) Call(funcname string, w http.ResponseWriter, r *http.Request) {
	_func, ok := disp.funcs[funcname]
	if !ok {
		http.Error(w, fmt.Sprintf("function \"%s\" not found", funcname), http.StatusNotFound)
		return
	}
	disp.call(funcname, _func, r, w)
}

func (disp *Dispatcher) call(funcname string, _func _function, r *http.Request, w http.ResponseWriter) {
	var err error
	response := reflect.New(_func.resType)
	var err_ref []reflect.Value
	ctx := reflect.ValueOf(r.Context())
	if _func.reqType != nil {
		request := reflect.New(_func.reqType)
		err := json.NewDecoder(r.Body).Decode(request.Interface())
		if err != nil && err != io.EOF {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = disp.validator.Struct(request.Interface())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err_ref = _func.handler.Call([]reflect.Value{ctx, request, response})
	} else {
		err_ref = _func.handler.Call([]reflect.Value{ctx, response})
	}
	if !err_ref[0].IsNil() {
		err := err_ref[0].Interface().(error)
		code, ok := status_code(err)
		if !ok {
			panic(err)
		}
		disp.log.Warn().Err(err).Str("func", funcname).Int("code", code).Msg("")
		http.Error(w, err.Error(), code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(response.Interface())
	if err != nil {
		disp.log.Error().Err(err).Msg("")
	}
}

// status_code maps the known error kinds to a response status. Anything
// else is unexpected.
func status_code(err error) (int, bool) {
	switch {
	case errors.Is(err, tracker.ErrPermissionDenied):
		return http.StatusForbidden, true
	case errors.Is(err, tracker.ErrInvalidStateTransition):
		return http.StatusConflict, true
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, true
	case errors.Is(err, location.ErrUnavailable), errors.Is(err, tracker.ErrNoStartPoint):
		return http.StatusServiceUnavailable, true
	default:
		return 0, false
	}
}
