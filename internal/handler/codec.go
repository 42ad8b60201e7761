package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
)

type itemReq struct {
	ProductID string
	Quantity  int
}

type paymentReq struct {
	Method  string
	Account string
}

type placeOrderReq struct {
	FirstName     string
	LastName      string
	Items         []itemReq
	DiscountCodes []string
	Payment       *paymentReq
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(body) == 0 {
		return nil, errors.New("request body is required")
	}
	return body, nil
}

func decodePlaceOrder(data []byte) (placeOrderReq, error) {
	var req placeOrderReq
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customer":
			return d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "firstName":
					req.FirstName, err = d.Str()
				case "lastName":
					req.LastName, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		case "discountCodes":
			return d.Arr(func(d *jx.Decoder) error {
				code, err := d.Str()
				if err != nil {
					return err
				}
				req.DiscountCodes = append(req.DiscountCodes, code)
				return nil
			})
		case "payment":
			p, err := decodePayment(d)
			if err != nil {
				return err
			}
			req.Payment = &p
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return placeOrderReq{}, errors.Wrap(err, "decode order request")
	}
	return req, nil
}

func decodeItem(d *jx.Decoder) (itemReq, error) {
	var item itemReq
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			item.ProductID, err = d.Str()
		case "quantity":
			item.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return item, err
}

func decodePayment(d *jx.Decoder) (paymentReq, error) {
	var p paymentReq
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "method":
			p.Method, err = d.Str()
		case "account":
			p.Account, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return p, err
}

// decodeProcessOrder reads {"payment": {...}}.
func decodeProcessOrder(data []byte) (*paymentReq, error) {
	var p *paymentReq
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "payment" {
			return d.Skip()
		}
		v, err := decodePayment(d)
		if err != nil {
			return err
		}
		p = &v
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode process request")
	}
	return p, nil
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Float64(v.InexactFloat64())
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	encodeMoney(e, p.Price)
	e.FieldStart("stock")
	e.Int(p.Stock())
	e.FieldStart("kind")
	e.Str(string(p.Kind))
	switch p.Kind {
	case product.KindDigital:
		e.FieldStart("downloadLink")
		e.Str(p.DownloadLink)
	default:
		e.FieldStart("weight")
		encodeMoney(e, p.Weight)
	}
	e.FieldStart("description")
	e.Str(p.Describe())
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)

	e.FieldStart("customer")
	e.ObjStart()
	e.FieldStart("firstName")
	e.Str(o.Customer.FirstName)
	e.FieldStart("lastName")
	e.Str(o.Customer.LastName)
	e.FieldStart("fullName")
	e.Str(o.Customer.FullName())
	e.ObjEnd()

	e.FieldStart("status")
	e.Str(string(o.Status()))
	if reason := o.FailureReason(); reason != order.ReasonNone {
		e.FieldStart("failureReason")
		e.Str(string(reason))
	}

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines() {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.Product().ID)
		e.FieldStart("name")
		e.Str(l.Product().Name)
		e.FieldStart("quantity")
		e.Int(l.Quantity())
		e.FieldStart("originalPrice")
		encodeMoney(e, l.OriginalPrice())
		e.FieldStart("discountedPrice")
		encodeMoney(e, l.DiscountedPrice())
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("total")
	encodeMoney(e, o.Total())
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.Format(time.RFC3339Nano))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt().Format(time.RFC3339Nano))
	e.ObjEnd()
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// errorBody is the JSON error payload. OrderID and Reason are set when a
// stored order failed to process.
type errorBody struct {
	Code    int
	Message string
	OrderID string
	Reason  string
}

func writeError(w http.ResponseWriter, body errorBody) {
	writeJSON(w, body.Code, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(body.Code)
		e.FieldStart("message")
		e.Str(body.Message)
		if body.OrderID != "" {
			e.FieldStart("orderId")
			e.Str(body.OrderID)
		}
		if body.Reason != "" {
			e.FieldStart("reason")
			e.Str(body.Reason)
		}
		e.ObjEnd()
	})
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	writeError(w, errorBody{Code: http.StatusInternalServerError, Message: "internal error"})
}
