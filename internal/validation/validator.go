// Package validation проверяет входные данные сервисов: теги validator/v10,
// денежные суммы shopspring/decimal и телефоны через libphonenumber.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// DefaultRegion: регион для номеров без международного префикса.
const DefaultRegion = "BD"

// ErrInvalidPhone: номер не распознан или невалиден для региона.
var ErrInvalidPhone = errors.New("phone number is not valid")

// maxMoney: наибольшая сумма столбца NUMERIC(12,2).
var maxMoney = decimal.RequireFromString("9999999999.99")

// Validator оборачивает validator.Validate с зарегистрированными типами и тегами.
type Validator struct {
	validate *validator.Validate
	region   string
}

// New создаёт валидатор. Пустой region заменяется на DefaultRegion.
func New(region string) *Validator {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultRegion
	}

	v := &Validator{validate: validator.New(), region: region}
	v.validate.RegisterTagNameFunc(jsonFieldName)
	v.validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	_ = v.validate.RegisterValidation("phone", v.validPhone)
	_ = v.validate.RegisterValidation("money", validMoney)
	return v
}

// Region возвращает регион по умолчанию для телефонов.
func (v *Validator) Region() string {
	return v.region
}

// Struct проверяет структуру и возвращает *domain.ValidationError с именами полей из json-тегов.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %w", err)
	}

	result := &domain.ValidationError{}
	for _, fe := range fieldErrs {
		result.Add(fieldPath(fe.Namespace()), message(fe))
	}
	return result
}

// NormalizePhone приводит номер к E.164.
func (v *Validator) NormalizePhone(raw string) (string, error) {
	num, err := libphonenumber.Parse(strings.TrimSpace(raw), v.region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

func (v *Validator) validPhone(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true
	}
	_, err := v.NormalizePhone(raw)
	return err == nil
}

// IsMoney сообщает, хранится ли сумма без округления: не больше двух
// знаков после запятой и в пределах NUMERIC(12,2).
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(2)) && d.Abs().LessThanOrEqual(maxMoney)
}

// validMoney получает значение уже после decimalValue, то есть float64.
func validMoney(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case decimal.Decimal:
		return IsMoney(v)
	case float64:
		return IsMoney(decimal.NewFromFloat(v))
	default:
		return false
	}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	default:
		return name
	}
}

// decimalValue позволяет применять к decimal.Decimal числовые теги gt/gte/lte.
func decimalValue(field reflect.Value) any {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

// fieldPath отрезает имя корневой структуры: createOrderInput.items[0].quantity -> items[0].quantity.
func fieldPath(namespace string) string {
	if idx := strings.IndexByte(namespace, '.'); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_if":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "money":
		return "must be an amount with at most 2 decimal places"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " item(s)"
		}
		return "must be at least " + fe.Param() + " characters long"
	case "max":
		return "must be at most " + fe.Param() + " characters long"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "uuid":
		return "must be a valid UUID"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
