package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-resty/resty/v2"
)

/**
* Object Mapper (from couchdb resty response to object)
**/

func MapToObject(resp interface{}, obj interface{}) error {
	if response, ok := resp.(*resty.Response); ok {
		data := response.Body()

		// Check if obj is a pointer to a struct
		val := reflect.ValueOf(obj)
		if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
			return errors.New("obj is not a pointer to a struct")
		}

		err := json.Unmarshal(data, obj)
		if err != nil {
			return fmt.Errorf("%s cannot be mapped to the given object", response.Body())
		}

		return nil
	}
	return errors.New("resp is not a resty.Response")
}

// FindResult is the shape of a Mango _find response before doc mapping
type FindResult struct {
	Docs     json.RawMessage `json:"docs"`
	Bookmark string          `json:"bookmark,omitempty"`
	Warning  string          `json:"warning,omitempty"`
}

// MapFindToList maps a _find response into a slice of documents
func MapFindToList(resp interface{}, list interface{}) error {
	if response, ok := resp.(*resty.Response); ok {
		var result FindResult
		if err := json.Unmarshal(response.Body(), &result); err != nil {
			return fmt.Errorf("%s cannot be mapped to a find result", response.Body())
		}
		if err := json.Unmarshal(result.Docs, list); err != nil {
			return fmt.Errorf("find docs cannot be mapped to the given list")
		}
		return nil
	}
	return errors.New("resp is not a resty.Response")
}
